package ratelimit

// charsPerToken is the approximate number of characters per token for English
// text. Used for reservation sizing only — not exact token counting.
const charsPerToken = 4

// promptBufferRatio pads every reservation by a small safety margin so a
// slightly-off estimate cannot push real usage over the provider limit.
const promptBufferRatio = 0.025

// EstimateTokens returns an approximate token count for the given text using
// the common ~4 characters per token heuristic. An exact count would require
// a tokenizer dependency for minimal benefit: the estimate only sizes bucket
// reservations, and surplus is refunded from the provider's real usage
// numbers after the call.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// promptBuffer returns the safety pad for a reservation of the given size.
func promptBuffer(reserve int) int {
	return int(float64(reserve) * promptBufferRatio)
}
