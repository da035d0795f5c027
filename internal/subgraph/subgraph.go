// Package subgraph holds the concept subgraph artifact model and the
// disk-backed cache that materializes artifacts from a remote store.
package subgraph

import (
	"encoding/json"
	"fmt"
	"io"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
)

// Subgraph is the graph-structured neighborhood of one curriculum concept.
// Immutable once decoded.
type Subgraph struct {
	// Code is the concept code this artifact is keyed by.
	Code string
	// Codes are the node identifiers, in artifact order.
	Codes []string
	// Features holds one feature vector per node.
	Features [][]float64
	// Edges are (source, target) node index pairs.
	Edges [][2]int
	// EdgeTypes carries one type tag per edge; empty means all edges are
	// type 0.
	EdgeTypes []int

	// Optional enrichment.
	GradeLevels   [][]string
	Descriptions  []string
	HistoryScores []map[string]float64
}

type artifactDoc struct {
	Code          string               `json:"code"`
	Codes         []string             `json:"codes"`
	Features      [][]float64          `json:"features"`
	Edges         [][]int              `json:"edges"`
	EdgeTypes     []int                `json:"edge_types"`
	GradeLevels   [][]string           `json:"grade_levels"`
	Descriptions  []string             `json:"descriptions"`
	HistoryScores []map[string]float64 `json:"history_scores"`
}

// Decode reads a serialized artifact and validates its structure. Any defect
// is reported as ErrIntegrity so callers can apply the not-found-equivalent
// policy for history entries.
func Decode(r io.Reader) (*Subgraph, error) {
	var doc artifactDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode artifact: %v: %w", err, errs.ErrIntegrity)
	}
	return fromDoc(&doc)
}

func fromDoc(doc *artifactDoc) (*Subgraph, error) {
	if doc.Code == "" {
		return nil, fmt.Errorf("artifact missing code: %w", errs.ErrIntegrity)
	}
	if len(doc.Codes) == 0 {
		return nil, fmt.Errorf("artifact %s has no nodes: %w", doc.Code, errs.ErrIntegrity)
	}
	if len(doc.Features) != len(doc.Codes) {
		return nil, fmt.Errorf("artifact %s: %d feature rows for %d nodes: %w",
			doc.Code, len(doc.Features), len(doc.Codes), errs.ErrIntegrity)
	}
	if len(doc.EdgeTypes) != 0 && len(doc.EdgeTypes) != len(doc.Edges) {
		return nil, fmt.Errorf("artifact %s: %d edge types for %d edges: %w",
			doc.Code, len(doc.EdgeTypes), len(doc.Edges), errs.ErrIntegrity)
	}
	edges := make([][2]int, len(doc.Edges))
	for i, e := range doc.Edges {
		if len(e) != 2 {
			return nil, fmt.Errorf("artifact %s: edge %d is not a pair: %w", doc.Code, i, errs.ErrIntegrity)
		}
		if e[0] < 0 || e[0] >= len(doc.Codes) || e[1] < 0 || e[1] >= len(doc.Codes) {
			return nil, fmt.Errorf("artifact %s: edge %d out of range: %w", doc.Code, i, errs.ErrIntegrity)
		}
		edges[i] = [2]int{e[0], e[1]}
	}
	if len(doc.GradeLevels) != 0 && len(doc.GradeLevels) != len(doc.Codes) {
		return nil, fmt.Errorf("artifact %s: grade_levels length mismatch: %w", doc.Code, errs.ErrIntegrity)
	}
	if len(doc.Descriptions) != 0 && len(doc.Descriptions) != len(doc.Codes) {
		return nil, fmt.Errorf("artifact %s: descriptions length mismatch: %w", doc.Code, errs.ErrIntegrity)
	}
	if len(doc.HistoryScores) != 0 && len(doc.HistoryScores) != len(doc.Codes) {
		return nil, fmt.Errorf("artifact %s: history_scores length mismatch: %w", doc.Code, errs.ErrIntegrity)
	}
	return &Subgraph{
		Code:          doc.Code,
		Codes:         doc.Codes,
		Features:      doc.Features,
		Edges:         edges,
		EdgeTypes:     doc.EdgeTypes,
		GradeLevels:   doc.GradeLevels,
		Descriptions:  doc.Descriptions,
		HistoryScores: doc.HistoryScores,
	}, nil
}

// NodeIndex returns the node position of code, or -1.
func (s *Subgraph) NodeIndex(code string) int {
	for i, c := range s.Codes {
		if c == code {
			return i
		}
	}
	return -1
}

// EdgeType returns the type tag of edge i (0 when the artifact carried none).
func (s *Subgraph) EdgeType(i int) int {
	if len(s.EdgeTypes) == 0 {
		return 0
	}
	return s.EdgeTypes[i]
}

// NumNodes returns the node count.
func (s *Subgraph) NumNodes() int { return len(s.Codes) }
