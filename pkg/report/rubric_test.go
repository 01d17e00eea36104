package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRubric(t *testing.T) {
	tests := []struct {
		name      string
		scores    map[string]int
		wantTotal int
		wantMax   int
		wantPass  bool
	}{
		{
			name: "all fives passes",
			scores: map[string]int{
				"coverage": 5, "accuracy": 5, "citation_quality": 5,
				"style": 5, "prioritization": 5, "completeness": 5,
			},
			wantTotal: 50,
			wantMax:   55,
			wantPass:  true, // 50/55 ≈ 0.909
		},
		{
			name: "weak first round fails",
			scores: map[string]int{
				"coverage": 2, "accuracy": 3, "citation_quality": 1,
				"style": 3, "prioritization": 3, "completeness": 2,
			},
			wantTotal: 22,
			wantMax:   55,
			wantPass:  false,
		},
		{
			name: "all fours fails",
			scores: map[string]int{
				"coverage": 4, "accuracy": 4, "citation_quality": 4,
				"style": 4, "prioritization": 4, "completeness": 4,
			},
			wantTotal: 40,
			wantMax:   55,
			wantPass:  false,
		},
		{
			name: "information density raises the maximum",
			scores: map[string]int{
				"coverage": 5, "accuracy": 5, "citation_quality": 5,
				"style": 5, "prioritization": 5, "completeness": 5,
				"information_density": 5,
			},
			wantTotal: 55,
			wantMax:   65,
			wantPass:  false, // 55/65 ≈ 0.846
		},
		{
			name:      "unknown keys ignored",
			scores:    map[string]int{"coverage": 5, "sparkle": 5},
			wantTotal: 15,
			wantMax:   55,
			wantPass:  false,
		},
		{
			name:      "empty rubric",
			scores:    map[string]int{},
			wantTotal: 0,
			wantMax:   55,
			wantPass:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, max := scoreRubric(tt.scores)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantMax, max)
			assert.Equal(t, tt.wantPass, passes(total, max))
		})
	}
}
