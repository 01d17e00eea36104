package report

// Status is the evaluator's verdict on a report.
type Status string

const (
	StatusPass       Status = "PASS"
	StatusFail       Status = "FAIL"
	StatusIncomplete Status = "INCOMPLETE"
)

// passThreshold is the normalized score a report must reach.
const passThreshold = 0.9

// Rubric maxima. The base maximum assumes the six mandatory fields; when the
// model volunteers an information_density score the maximum grows.
const (
	rubricMaxBase    = 55
	rubricMaxDensity = 65
)

// scoreRubric computes the weighted total for a parsed rubric and the
// maximum it is normalized against. Unknown keys are ignored, so a stray
// "comments" field does not poison the score.
func scoreRubric(scores map[string]int) (total, max int) {
	max = rubricMaxBase
	for key, val := range scores {
		switch key {
		case "coverage":
			total += 3 * val
		case "accuracy", "citation_quality":
			total += 2 * val
		case "style", "prioritization", "completeness":
			total += val
		case "information_density":
			total += val
			max = rubricMaxDensity
		}
	}
	return total, max
}

// passes reports whether a total clears the threshold against its maximum.
func passes(total, max int) bool {
	return float64(total)/float64(max) >= passThreshold
}
