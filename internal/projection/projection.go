// Package projection flattens a target concept's one-hop neighborhood into
// the nodes/links document the explorer UI consumes.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
	"github.com/mrkhmath/mathgraph-backend/internal/subgraph"
)

var edgeTypeNames = map[int]string{
	0: "IS_CHILD_OF",
	1: "IS_PART_OF",
	2: "EXACT_MATCH",
	3: "INFERRED_ALIGNMENT",
}

const edgeTypeFallback = "RELATED"

type Node struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	GradeLevels []string `json:"grade_levels"`
	Description string   `json:"description"`
	// Score is this student's historical score for the concept; null when
	// the student never saw it.
	Score *float64 `json:"score"`
}

type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

type Options struct {
	// Redis, when set, caches rendered projections.
	Redis *goredis.Client
	TTL   time.Duration
}

type Projector struct {
	cache *subgraph.Cache
	rdb   *goredis.Client
	ttl   time.Duration
	log   *logger.Logger
}

func New(cache *subgraph.Cache, opts Options, log *logger.Logger) *Projector {
	if log == nil {
		log = logger.Nop()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Projector{cache: cache, rdb: opts.Redis, ttl: ttl, log: log}
}

// Project resolves the target subgraph through the shared cache and emits the
// target node, its direct neighbors in either edge direction, and every edge
// whose endpoints are both visible.
func (p *Projector) Project(ctx context.Context, studentID, targetCode string) (*Graph, error) {
	studentID = strings.TrimSpace(studentID)
	targetCode = strings.TrimSpace(targetCode)
	if studentID == "" {
		return nil, fmt.Errorf("student_id required: %w", errs.ErrInvalidInput)
	}
	if targetCode == "" {
		return nil, fmt.Errorf("target_ccss required: %w", errs.ErrInvalidInput)
	}

	key := "projection:" + studentID + ":" + targetCode
	if g := p.cached(ctx, key); g != nil {
		return g, nil
	}

	sg, _, err := p.cache.Get(ctx, targetCode)
	if err != nil {
		return nil, err
	}

	targetIdx := sg.NodeIndex(targetCode)
	if targetIdx < 0 {
		// A subgraph file must contain its own defining code.
		return nil, fmt.Errorf("target code %s missing from its own subgraph: %w", targetCode, errs.ErrNotFound)
	}

	visible := map[int]bool{targetIdx: true}
	for _, e := range sg.Edges {
		if e[0] == targetIdx || e[1] == targetIdx {
			visible[e[0]] = true
			visible[e[1]] = true
		}
	}

	idxs := make([]int, 0, len(visible))
	for i := range visible {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	g := &Graph{Nodes: make([]Node, 0, len(idxs)), Links: []Link{}}
	for _, i := range idxs {
		n := Node{
			ID:          sg.Codes[i],
			Label:       sg.Codes[i],
			GradeLevels: []string{},
		}
		if len(sg.GradeLevels) > 0 && sg.GradeLevels[i] != nil {
			n.GradeLevels = sg.GradeLevels[i]
		}
		if len(sg.Descriptions) > 0 {
			n.Description = sg.Descriptions[i]
		}
		if len(sg.HistoryScores) > 0 {
			if s, ok := sg.HistoryScores[i][studentID]; ok {
				score := s
				n.Score = &score
			}
		}
		g.Nodes = append(g.Nodes, n)
	}

	for i, e := range sg.Edges {
		if !visible[e[0]] || !visible[e[1]] {
			continue
		}
		name, ok := edgeTypeNames[sg.EdgeType(i)]
		if !ok {
			name = edgeTypeFallback
		}
		g.Links = append(g.Links, Link{
			Source: sg.Codes[e[0]],
			Target: sg.Codes[e[1]],
			Type:   name,
		})
	}

	p.store(ctx, key, g)
	return g, nil
}

// cached and store are best effort; a redis outage degrades to rebuilding.
func (p *Projector) cached(ctx context.Context, key string) *Graph {
	if p.rdb == nil {
		return nil
	}
	raw, err := p.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			p.log.Warn("projection cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		p.log.Warn("projection cache entry corrupt", "key", key, "error", err)
		return nil
	}
	return &g
}

func (p *Projector) store(ctx context.Context, key string, g *Graph) {
	if p.rdb == nil {
		return
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, key, raw, p.ttl).Err(); err != nil {
		p.log.Warn("projection cache write failed", "key", key, "error", err)
	}
}
