// Package mock provides a deterministic scorer for tests and for running the
// service without model weights.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/mrkhmath/mathgraph-backend/internal/scorer"
)

type Scorer struct {
	// Fixed, when set, is returned for every step instead of the derived
	// score.
	Fixed *float64
}

func New() *Scorer {
	return &Scorer{}
}

func NewFixed(v float64) *Scorer {
	return &Scorer{Fixed: &v}
}

// Score derives a stable pseudo-logit in [-2, 2) from each step's concept
// code and difficulty level, so repeated calls for the same sequence agree.
func (m *Scorer) Score(ctx context.Context, steps []scorer.Step) ([]float64, error) {
	_ = ctx
	out := make([]float64, len(steps))
	for i, st := range steps {
		if m.Fixed != nil {
			out[i] = *m.Fixed
			continue
		}
		h := sha256.Sum256([]byte(st.Graph.Code + "\n" + strconv.Itoa(st.DOK)))
		u := binary.LittleEndian.Uint32(h[:4])
		out[i] = float64(u%10_000)/10_000.0*4 - 2
	}
	return out, nil
}
