// Package pipeline assembles a bounded, ordered sequence of subgraph steps
// for a student and target concept and drives the scoring model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
	"github.com/mrkhmath/mathgraph-backend/internal/platform/logger"
	"github.com/mrkhmath/mathgraph-backend/internal/scorer"
	"github.com/mrkhmath/mathgraph-backend/internal/sequence"
	"github.com/mrkhmath/mathgraph-backend/internal/subgraph"
)

// MaxDOK is the highest difficulty level the model's embedding covers.
const MaxDOK = 4

type Options struct {
	// HistoryLimit caps how many of the most recent history entries are
	// considered per request.
	HistoryLimit int
	// DownloadBudget caps how many new (not locally cached) artifacts one
	// request may trigger; once reached, remaining history is dropped.
	DownloadBudget int
	// Threshold converts the readiness probability to a boolean decision.
	Threshold float64
}

// Result is the outcome of one inference request.
type Result struct {
	Ready       bool
	Probability float64
	// Steps counts sequence positions fed to the model, target included.
	Steps int
	// DegradedSteps counts history entries dropped because their subgraph
	// could not be resolved.
	DegradedSteps int
	// Downloads counts artifacts this request pulled from the remote store.
	Downloads int
}

type Pipeline struct {
	cache  *subgraph.Cache
	repo   *sequence.Repository
	scorer scorer.Scorer
	opts   Options
	log    *logger.Logger
	tracer trace.Tracer
}

func New(cache *subgraph.Cache, repo *sequence.Repository, sc scorer.Scorer, opts Options, log *logger.Logger) *Pipeline {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 32
	}
	if opts.DownloadBudget <= 0 {
		opts.DownloadBudget = 12
	}
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		opts.Threshold = 0.7
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		cache:  cache,
		repo:   repo,
		scorer: sc,
		opts:   opts,
		log:    log,
		tracer: otel.Tracer("pipeline"),
	}
}

// RunInference predicts whether the student is ready for the target concept
// at the requested difficulty level.
func (p *Pipeline) RunInference(ctx context.Context, studentID, targetCode string, dok int) (Result, error) {
	studentID = strings.TrimSpace(studentID)
	targetCode = strings.TrimSpace(targetCode)
	if studentID == "" {
		return Result{}, fmt.Errorf("student_id required: %w", errs.ErrInvalidInput)
	}
	if targetCode == "" {
		return Result{}, fmt.Errorf("target_ccss required: %w", errs.ErrInvalidInput)
	}
	if dok < 0 || dok > MaxDOK {
		return Result{}, fmt.Errorf("dok %d outside [0,%d]: %w", dok, MaxDOK, errs.ErrInvalidInput)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run_inference",
		trace.WithAttributes(attribute.String("concept.target", targetCode)))
	defer span.End()

	if !p.repo.Known(studentID) {
		return Result{}, fmt.Errorf("student %s: %w", studentID, errs.ErrNotFound)
	}

	history := p.repo.HistoryFor(studentID)
	if len(history) > p.opts.HistoryLimit {
		history = history[len(history)-p.opts.HistoryLimit:]
	}

	var (
		steps     []scorer.Step
		seen      = map[string]bool{}
		downloads int
		degraded  int
	)
	for _, entry := range history {
		if downloads >= p.opts.DownloadBudget {
			p.log.Debug("download budget exhausted, truncating history",
				"student_id", studentID, "budget", p.opts.DownloadBudget)
			break
		}
		code := strings.TrimSpace(entry.Code)
		if code == "" || seen[code] {
			continue
		}
		g, origin, err := p.cache.Get(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("history fetch: %w", ctx.Err())
			}
			degraded++
			p.log.Warn("history subgraph unresolved, skipping step",
				"student_id", studentID, "code", code, "error", err)
			continue
		}
		if origin == subgraph.OriginDownloaded {
			downloads++
		}
		seen[code] = true
		steps = append(steps, scorer.Step{Graph: g, DOK: clampDOK(entry.DOK)})
	}

	// The target must resolve; there is no silent skip here.
	target, origin, err := p.cache.Get(ctx, targetCode)
	if err != nil {
		if errors.Is(err, errs.ErrTransient) || errors.Is(err, errs.ErrInvalidInput) {
			return Result{}, fmt.Errorf("target subgraph %s: %w", targetCode, err)
		}
		return Result{}, fmt.Errorf("target subgraph %s unavailable: %w", targetCode, errs.ErrNotFound)
	}
	if origin == subgraph.OriginDownloaded {
		downloads++
	}
	steps = append(steps, scorer.Step{Graph: target, DOK: dok})

	scores, err := p.scorer.Score(ctx, steps)
	if err != nil {
		return Result{}, fmt.Errorf("score sequence: %w", err)
	}
	if len(scores) != len(steps) {
		return Result{}, fmt.Errorf("scorer returned %d scores for %d steps", len(scores), len(steps))
	}

	prob := sigmoid(scores[len(scores)-1])
	res := Result{
		Ready:         prob >= p.opts.Threshold,
		Probability:   prob,
		Steps:         len(steps),
		DegradedSteps: degraded,
		Downloads:     downloads,
	}

	span.SetAttributes(
		attribute.Int("pipeline.steps", res.Steps),
		attribute.Int("pipeline.degraded_steps", res.DegradedSteps),
		attribute.Int("pipeline.downloads", res.Downloads),
	)
	p.log.Info("inference complete",
		"student_id", studentID,
		"target_ccss", targetCode,
		"dok", dok,
		"steps", res.Steps,
		"degraded_steps", res.DegradedSteps,
		"downloads", res.Downloads,
		"probability", res.Probability,
		"ready", res.Ready,
	)
	return res, nil
}

// Threshold exposes the configured readiness cutoff.
func (p *Pipeline) Threshold() float64 { return p.opts.Threshold }

func clampDOK(dok int) int {
	if dok < 0 {
		return 0
	}
	if dok > MaxDOK {
		return MaxDOK
	}
	return dok
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
