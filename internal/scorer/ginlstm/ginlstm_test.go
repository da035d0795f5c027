package ginlstm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer"
	"github.com/mrkhmath/mathgraph-backend/internal/subgraph"
)

func zeros(n int) []float64 { return make([]float64, n) }

func zeroMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// tinyCheckpoint builds a structurally valid all-zero checkpoint with
// node_feat_dim=2, hidden_dim=2, dok_embed_dim=1, dok_vocab=3.
func tinyCheckpoint() map[string]any {
	const featDim, hidden, embedDim, vocab = 2, 2, 1, 3
	stepDim := hidden + embedDim
	return map[string]any{
		"node_feat_dim": featDim,
		"dok_embed_dim": embedDim,
		"hidden_dim":    hidden,
		"dok_vocab":     vocab,
		"gin1":          map[string]any{"weight": zeroMatrix(hidden, featDim), "bias": zeros(hidden)},
		"gin2":          map[string]any{"weight": zeroMatrix(hidden, hidden), "bias": zeros(hidden)},
		"dok_embed":     zeroMatrix(vocab, embedDim),
		"lstm": map[string]any{
			"weight_ih": zeroMatrix(4*hidden, stepDim),
			"weight_hh": zeroMatrix(4*hidden, hidden),
			"bias_ih":   zeros(4 * hidden),
			"bias_hh":   zeros(4 * hidden),
		},
		"fc": map[string]any{"weight": zeroMatrix(1, hidden), "bias": zeros(1)},
	}
}

func writeCheckpoint(t *testing.T, doc map[string]any) string {
	t.Helper()
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	path := filepath.Join(t.TempDir(), "ckpt.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	return path
}

func testGraph(featDim int, n int) *subgraph.Subgraph {
	codes := make([]string, n)
	feats := make([][]float64, n)
	for i := range codes {
		codes[i] = "N" + string(rune('A'+i))
		feats[i] = make([]float64, featDim)
		feats[i][0] = 1
	}
	return &subgraph.Subgraph{Code: codes[0], Codes: codes, Features: feats}
}

func TestLoadAndScoreZeroWeights(t *testing.T) {
	doc := tinyCheckpoint()
	// With all other weights zero the logit collapses to the head bias.
	doc["fc"] = map[string]any{"weight": zeroMatrix(1, 2), "bias": []float64{0.25}}
	m, err := Load(writeCheckpoint(t, doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	steps := []scorer.Step{
		{Graph: testGraph(2, 1), DOK: 0},
		{Graph: testGraph(2, 3), DOK: 2},
	}
	scores, err := m.Score(context.Background(), steps)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("scores=%d, want one per step", len(scores))
	}
	for i, s := range scores {
		if math.Abs(s-0.25) > 1e-12 {
			t.Fatalf("score[%d]=%v, want 0.25", i, s)
		}
	}
}

func TestGINLayerAggregatesAlongEdges(t *testing.T) {
	l := linear{Weight: [][]float64{{1}}, Bias: []float64{0}}
	m := &Model{}

	// Edge 0->1: node 1 receives node 0's feature on top of its own.
	x := [][]float64{{1}, {2}}
	out := m.ginLayer(x, [][2]int{{0, 1}}, l)
	if out[0][0] != 1 || out[1][0] != 3 {
		t.Fatalf("gin output=%v, want [[1] [3]]", out)
	}

	// Negative pre-activations are clamped.
	neg := linear{Weight: [][]float64{{-1}}, Bias: []float64{0}}
	out = m.ginLayer(x, nil, neg)
	if out[0][0] != 0 || out[1][0] != 0 {
		t.Fatalf("relu output=%v, want zeros", out)
	}
}

func TestScoreRejectsBadSteps(t *testing.T) {
	m, err := Load(writeCheckpoint(t, tinyCheckpoint()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Feature width disagrees with the trained model.
	_, err = m.Score(context.Background(), []scorer.Step{{Graph: testGraph(5, 1), DOK: 0}})
	if !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("feature mismatch err=%v, want ErrIntegrity", err)
	}

	// Difficulty level outside the embedding vocabulary.
	_, err = m.Score(context.Background(), []scorer.Step{{Graph: testGraph(2, 1), DOK: 3}})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("dok err=%v, want ErrInvalidInput", err)
	}

	_, err = m.Score(context.Background(), nil)
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty sequence err=%v, want ErrInvalidInput", err)
	}
}

func TestLoadRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"zero hidden dim", func(d map[string]any) { d["hidden_dim"] = 0 }},
		{"gin1 wrong rows", func(d map[string]any) {
			d["gin1"] = map[string]any{"weight": zeroMatrix(1, 2), "bias": zeros(1)}
		}},
		{"dok embed wrong vocab", func(d map[string]any) { d["dok_embed"] = zeroMatrix(1, 1) }},
		{"lstm wrong gate rows", func(d map[string]any) {
			d["lstm"] = map[string]any{
				"weight_ih": zeroMatrix(4, 3),
				"weight_hh": zeroMatrix(8, 2),
				"bias_ih":   zeros(8),
				"bias_hh":   zeros(8),
			}
		}},
		{"fc wrong cols", func(d map[string]any) {
			d["fc"] = map[string]any{"weight": zeroMatrix(1, 5), "bias": zeros(1)}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := tinyCheckpoint()
			tc.mutate(doc)
			if _, err := Load(writeCheckpoint(t, doc)); err == nil {
				t.Fatal("expected shape validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing checkpoint")
	}
}
