// Package ginlstm is a CPU forward pass of the readiness network: two GIN
// convolutions over each concept subgraph, mean pooling, a difficulty-level
// embedding, an LSTM over the step sequence, and a per-step linear head.
// Weights are exported from the trained checkpoint as JSON and loaded once at
// startup; the network is evaluation-only, so dropout is not represented.
package ginlstm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer"
)

type linear struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

type lstmWeights struct {
	// Gate rows are ordered input, forget, cell, output.
	WeightIH [][]float64 `json:"weight_ih"`
	WeightHH [][]float64 `json:"weight_hh"`
	BiasIH   []float64   `json:"bias_ih"`
	BiasHH   []float64   `json:"bias_hh"`
}

type checkpoint struct {
	NodeFeatDim int `json:"node_feat_dim"`
	DOKEmbedDim int `json:"dok_embed_dim"`
	HiddenDim   int `json:"hidden_dim"`
	DOKVocab    int `json:"dok_vocab"`

	GIN1     linear      `json:"gin1"`
	GIN2     linear      `json:"gin2"`
	DOKEmbed [][]float64 `json:"dok_embed"`
	LSTM     lstmWeights `json:"lstm"`
	FC       linear      `json:"fc"`
}

// Model holds the loaded weights. Immutable after Load; safe for concurrent
// Score calls without locking.
type Model struct {
	ckpt checkpoint
}

var _ scorer.Scorer = (*Model)(nil)

// Load reads and shape-checks a JSON checkpoint.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var ckpt checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if err := ckpt.validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return &Model{ckpt: ckpt}, nil
}

func (c *checkpoint) validate() error {
	if c.NodeFeatDim <= 0 || c.HiddenDim <= 0 || c.DOKEmbedDim <= 0 || c.DOKVocab <= 0 {
		return fmt.Errorf("non-positive dimensions")
	}
	if err := checkLinear(c.GIN1, c.HiddenDim, c.NodeFeatDim, "gin1"); err != nil {
		return err
	}
	if err := checkLinear(c.GIN2, c.HiddenDim, c.HiddenDim, "gin2"); err != nil {
		return err
	}
	if len(c.DOKEmbed) != c.DOKVocab {
		return fmt.Errorf("dok_embed has %d rows, want %d", len(c.DOKEmbed), c.DOKVocab)
	}
	for i, row := range c.DOKEmbed {
		if len(row) != c.DOKEmbedDim {
			return fmt.Errorf("dok_embed row %d has %d cols, want %d", i, len(row), c.DOKEmbedDim)
		}
	}
	stepDim := c.HiddenDim + c.DOKEmbedDim
	if len(c.LSTM.WeightIH) != 4*c.HiddenDim {
		return fmt.Errorf("lstm weight_ih has %d rows, want %d", len(c.LSTM.WeightIH), 4*c.HiddenDim)
	}
	for i, row := range c.LSTM.WeightIH {
		if len(row) != stepDim {
			return fmt.Errorf("lstm weight_ih row %d has %d cols, want %d", i, len(row), stepDim)
		}
	}
	if len(c.LSTM.WeightHH) != 4*c.HiddenDim {
		return fmt.Errorf("lstm weight_hh has %d rows, want %d", len(c.LSTM.WeightHH), 4*c.HiddenDim)
	}
	for i, row := range c.LSTM.WeightHH {
		if len(row) != c.HiddenDim {
			return fmt.Errorf("lstm weight_hh row %d has %d cols, want %d", i, len(row), c.HiddenDim)
		}
	}
	if len(c.LSTM.BiasIH) != 4*c.HiddenDim || len(c.LSTM.BiasHH) != 4*c.HiddenDim {
		return fmt.Errorf("lstm biases have %d/%d entries, want %d", len(c.LSTM.BiasIH), len(c.LSTM.BiasHH), 4*c.HiddenDim)
	}
	return checkLinear(c.FC, 1, c.HiddenDim, "fc")
}

func checkLinear(l linear, rows, cols int, name string) error {
	if len(l.Weight) != rows {
		return fmt.Errorf("%s weight has %d rows, want %d", name, len(l.Weight), rows)
	}
	for i, row := range l.Weight {
		if len(row) != cols {
			return fmt.Errorf("%s weight row %d has %d cols, want %d", name, i, len(row), cols)
		}
	}
	if len(l.Bias) != rows {
		return fmt.Errorf("%s bias has %d entries, want %d", name, len(l.Bias), rows)
	}
	return nil
}

// Score returns one logit per step.
func (m *Model) Score(ctx context.Context, steps []scorer.Step) ([]float64, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty step sequence: %w", errs.ErrInvalidInput)
	}

	stepVecs := make([][]float64, 0, len(steps))
	for i, st := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := m.encodeStep(st)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		stepVecs = append(stepVecs, vec)
	}

	h := make([]float64, m.ckpt.HiddenDim)
	c := make([]float64, m.ckpt.HiddenDim)
	out := make([]float64, len(stepVecs))
	for t, x := range stepVecs {
		m.lstmStep(x, h, c)
		out[t] = dot(m.ckpt.FC.Weight[0], h) + m.ckpt.FC.Bias[0]
	}
	return out, nil
}

// encodeStep runs both GIN layers, mean-pools node embeddings, and appends the
// difficulty embedding.
func (m *Model) encodeStep(st scorer.Step) ([]float64, error) {
	g := st.Graph
	if g == nil || g.NumNodes() == 0 {
		return nil, fmt.Errorf("empty subgraph: %w", errs.ErrIntegrity)
	}
	for i, f := range g.Features {
		if len(f) != m.ckpt.NodeFeatDim {
			return nil, fmt.Errorf("subgraph %s node %d has %d features, model wants %d: %w",
				g.Code, i, len(f), m.ckpt.NodeFeatDim, errs.ErrIntegrity)
		}
	}
	if st.DOK < 0 || st.DOK >= m.ckpt.DOKVocab {
		return nil, fmt.Errorf("difficulty level %d outside embedding vocabulary [0,%d): %w",
			st.DOK, m.ckpt.DOKVocab, errs.ErrInvalidInput)
	}

	h1 := m.ginLayer(g.Features, g.Edges, m.ckpt.GIN1)
	h2 := m.ginLayer(h1, g.Edges, m.ckpt.GIN2)

	pooled := make([]float64, m.ckpt.HiddenDim)
	for _, row := range h2 {
		for j, v := range row {
			pooled[j] += v
		}
	}
	n := float64(len(h2))
	for j := range pooled {
		pooled[j] /= n
	}

	vec := make([]float64, 0, m.ckpt.HiddenDim+m.ckpt.DOKEmbedDim)
	vec = append(vec, pooled...)
	vec = append(vec, m.ckpt.DOKEmbed[st.DOK]...)
	return vec, nil
}

// ginLayer computes relu(W*((x_v) + sum of neighbor features) + b) per node,
// aggregating messages along edge direction (eps fixed at 0, as trained).
func (m *Model) ginLayer(x [][]float64, edges [][2]int, l linear) [][]float64 {
	dim := len(x[0])
	agg := make([][]float64, len(x))
	for v := range x {
		agg[v] = make([]float64, dim)
		copy(agg[v], x[v])
	}
	for _, e := range edges {
		src, dst := e[0], e[1]
		for j, v := range x[src] {
			agg[dst][j] += v
		}
	}

	out := make([][]float64, len(x))
	for v := range agg {
		row := make([]float64, len(l.Weight))
		for i, w := range l.Weight {
			s := dot(w, agg[v]) + l.Bias[i]
			if s < 0 {
				s = 0
			}
			row[i] = s
		}
		out[v] = row
	}
	return out
}

// lstmStep advances hidden and cell state in place. Gate blocks follow the
// trained layout: input, forget, cell, output.
func (m *Model) lstmStep(x, h, c []float64) {
	hd := m.ckpt.HiddenDim
	gates := make([]float64, 4*hd)
	for i := range gates {
		gates[i] = dot(m.ckpt.LSTM.WeightIH[i], x) + m.ckpt.LSTM.BiasIH[i] +
			dot(m.ckpt.LSTM.WeightHH[i], h) + m.ckpt.LSTM.BiasHH[i]
	}
	for j := 0; j < hd; j++ {
		i := sigmoid(gates[j])
		f := sigmoid(gates[hd+j])
		g := math.Tanh(gates[2*hd+j])
		o := sigmoid(gates[3*hd+j])
		c[j] = f*c[j] + i*g
		h[j] = o * math.Tanh(c[j])
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i, v := range a {
		s += v * b[i]
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
