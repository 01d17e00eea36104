package ratelimit

// Stage names a phase of the IR agent's inner loop. Each stage carries its
// own model, sampling parameters, output budget, and per-call reservation cap,
// and routes through its own set of buckets.
type Stage string

const (
	StageSearch Stage = "SEARCH_CALL"
	StageSelect Stage = "SELECT_CALL"
	StageUpdate Stage = "UPDATE_CALL"
	StageFinal  Stage = "FINAL_CALL"
)

// StageParams is the per-stage LLM call configuration.
type StageParams struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
	TopP            float64

	// ReservationCap is the absolute ceiling for a single call's token
	// reservation. A call whose estimate exceeds it fails fast with
	// ReservationTooLargeError before any bucket work.
	ReservationCap int
}

// DefaultStageParams returns the stage table with its default tuning.
// The search stage runs on the planning model; select/update/final run on the
// smaller model since they mostly transform already-retrieved text.
func DefaultStageParams() map[Stage]StageParams {
	return map[Stage]StageParams{
		StageSearch: {Model: "gpt-4.1", MaxOutputTokens: 3000, Temperature: 0.4, TopP: 0.95, ReservationCap: 75_000},
		StageSelect: {Model: "gpt-4.1-mini", MaxOutputTokens: 3000, Temperature: 0.2, TopP: 0.9, ReservationCap: 100_000},
		StageUpdate: {Model: "gpt-4.1-mini", MaxOutputTokens: 6000, Temperature: 0.25, TopP: 0.9, ReservationCap: 150_000},
		StageFinal:  {Model: "gpt-4.1-mini", MaxOutputTokens: 1500, Temperature: 0.4, TopP: 0.95, ReservationCap: 100_000},
	}
}

// Limits holds every bucket capacity the gateway manages. All values are
// units per sliding window.
type Limits struct {
	PlanRequests int `yaml:"plan_requests"`
	PlanTokens   int `yaml:"plan_tokens"`

	GlobalRequests int `yaml:"global_requests"`
	GlobalTokens   int `yaml:"global_tokens"`

	// PerAgentTokens bounds any single IR agent (runaway protection).
	PerAgentTokens int `yaml:"per_agent_tokens"`

	RerankRequests int `yaml:"rerank_requests"`

	// GenRequests/GenTokens are shared by the report generator and evaluator.
	GenRequests int `yaml:"gen_requests"`
	GenTokens   int `yaml:"gen_tokens"`
}

// DefaultLimits returns the default bucket capacities.
func DefaultLimits() Limits {
	return Limits{
		PlanRequests:   50,
		PlanTokens:     50_000,
		GlobalRequests: 200,
		GlobalTokens:   200_000,
		PerAgentTokens: 100_000,
		RerankRequests: 500,
		GenRequests:    50,
		GenTokens:      50_000,
	}
}

// GenMaxOutputTokens is the output budget for generator/evaluator calls.
const GenMaxOutputTokens = 5000
