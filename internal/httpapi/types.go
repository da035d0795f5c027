package httpapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mrkhmath/mathgraph-backend/internal/projection"
)

// Level is a difficulty level that accepts either a JSON number or a numeric
// string, matching what the explorer UI has historically sent.
type Level int

func (l *Level) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("dok must be an integer level")
		}
		s = strings.TrimSpace(u)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("dok must be an integer level")
	}
	*l = Level(n)
	return nil
}

type predictRequest struct {
	StudentID    string `json:"student_id"`
	TargetCCSS   string `json:"target_ccss"`
	DOK          *Level `json:"dok"`
	IncludeGraph bool   `json:"include_graph"`
}

type predictResponse struct {
	StudentID      string            `json:"student_id"`
	TargetCCSS     string            `json:"target_ccss"`
	DOK            int               `json:"dok"`
	ReadinessScore float64           `json:"readiness_score"`
	Ready          bool              `json:"ready"`
	Steps          int               `json:"steps"`
	DegradedSteps  int               `json:"degraded_steps"`
	Graph          *projection.Graph `json:"graph,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}
