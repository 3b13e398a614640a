// Package pipeline runs one batch through graph build, the three detectors
// and the scorer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/scoring"
	"github.com/opensource-finance/ringwatch/internal/velocity"
)

var tracer = otel.Tracer("ringwatch-pipeline")

// Detector names used in DetectionError and report warnings.
const (
	DetectorCycles   = "cycles"
	DetectorShells   = "shell_chains"
	DetectorTemporal = "temporal"
)

// DetectionError reports a detector that failed in isolation. The run
// continues without that detector's findings.
type DetectionError struct {
	Detector string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("%s detector failed: %v", e.Detector, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

type cycleDetector interface {
	Detect(ctx context.Context, g *graph.Graph) graph.CycleResult
}

type shellDetector interface {
	Detect(ctx context.Context, g *graph.Graph) graph.ShellResult
}

type temporalDetector interface {
	Detect(ctx context.Context, txs []domain.Transaction) (velocity.Flags, error)
}

// Pipeline holds the configured detectors. It keeps no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	cycles   cycleDetector
	shells   shellDetector
	temporal temporalDetector
}

// New creates a pipeline from detection settings.
func New(cfg domain.DetectionConfig) *Pipeline {
	return &Pipeline{
		cycles:   graph.NewCycleDetector(cfg),
		shells:   graph.NewShellDetector(cfg),
		temporal: velocity.NewDetector(cfg),
	}
}

// Run analyses one batch. It always returns a report; detector failures are
// listed in Metadata.Warnings and their findings are left out.
func (p *Pipeline) Run(ctx context.Context, txs []domain.Transaction) *domain.Report {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int("batch.transactions", len(txs))),
	)
	defer span.End()

	_, buildSpan := tracer.Start(ctx, "graph.build")
	g := graph.Build(txs)
	buildSpan.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
	)
	buildSpan.End()

	var (
		cycles graph.CycleResult
		shells graph.ShellResult
		flags  velocity.Flags
		wg     sync.WaitGroup
	)
	errs := make([]*DetectionError, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = p.detect(ctx, DetectorCycles, "detect.cycles", func(ctx context.Context) error {
			cycles = p.cycles.Detect(ctx, g)
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		errs[1] = p.detect(ctx, DetectorShells, "detect.shell_chains", func(ctx context.Context) error {
			shells = p.shells.Detect(ctx, g)
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		errs[2] = p.detect(ctx, DetectorTemporal, "detect.temporal", func(ctx context.Context) error {
			var err error
			flags, err = p.temporal.Detect(ctx, txs)
			return err
		})
	}()
	wg.Wait()

	var warnings []string
	for _, e := range errs {
		if e == nil {
			continue
		}
		warnings = append(warnings, e.Error())
		slog.Warn("detector failed", "detector", e.Detector, "error", e.Err)
		switch e.Detector {
		case DetectorCycles:
			cycles = graph.CycleResult{}
		case DetectorShells:
			shells = graph.ShellResult{}
		case DetectorTemporal:
			flags = nil
		}
	}

	_, scoreSpan := tracer.Start(ctx, "score")
	out := scoring.Aggregate(scoring.Input{
		Accounts: domain.Accounts(txs),
		Cycles:   cycles.Cycles,
		Shells:   shells.Chains,
		Flags:    flags,
		Elapsed:  time.Since(start),
	})
	scoreSpan.SetAttributes(
		attribute.Int("score.suspicious", len(out.SuspiciousAccounts)),
		attribute.Int("score.rings", len(out.FraudRings)),
	)
	scoreSpan.End()

	report := &domain.Report{
		SuspiciousAccounts: out.SuspiciousAccounts,
		FraudRings:         out.FraudRings,
		Summary:            out.Summary,
		Metadata: domain.ReportMetadata{
			TransactionCount: len(txs),
			CyclesFound:      len(cycles.Cycles),
			ShellChainsFound: len(shells.Chains),
			Truncated:        cycles.Truncated || shells.Truncated,
			Warnings:         warnings,
			EngineVersion:    domain.EngineVersion,
		},
	}
	// Elapsed time covers scoring too.
	report.Summary.ProcessingTimeSeconds = scoring.RoundSeconds(time.Since(start))

	if report.Metadata.Truncated {
		slog.Warn("detection truncated at safety cap",
			"cycles", len(cycles.Cycles),
			"shell_chains", len(shells.Chains),
		)
	}
	span.SetAttributes(
		attribute.Int("report.suspicious", report.Summary.SuspiciousAccountsFlagged),
		attribute.Int("report.rings", report.Summary.FraudRingsDetected),
		attribute.Bool("report.truncated", report.Metadata.Truncated),
	)
	return report
}

// detect runs one detector in its own span and converts an error or a panic
// into a DetectionError.
func (p *Pipeline) detect(ctx context.Context, name, spanName string, fn func(context.Context) error) (derr *DetectionError) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			derr = &DetectionError{Detector: name, Err: fmt.Errorf("panic: %v", r)}
		}
		if derr != nil {
			span.RecordError(derr)
			span.SetStatus(codes.Error, derr.Error())
		}
	}()

	if err := fn(ctx); err != nil {
		return &DetectionError{Detector: name, Err: err}
	}
	return nil
}
