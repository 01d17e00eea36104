package ratelimit

import "fmt"

// ReservationTooLargeError reports a single call whose token reservation
// would exceed its stage cap. The call is rejected before any bucket work or
// LLM traffic.
type ReservationTooLargeError struct {
	Stage    Stage
	Reserved int
	Cap      int
}

func (e *ReservationTooLargeError) Error() string {
	return fmt.Sprintf("stage %s: single call would reserve %d tokens, cap is %d per window",
		e.Stage, e.Reserved, e.Cap)
}
