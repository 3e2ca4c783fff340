// Package engine evaluates a graph over many inputs at once.
//
// Rows are split into contiguous chunks and each chunk gets its own
// graph.Evaluator, so chunks run in parallel without sharing buffers. The
// graph's weights must not be adjusted while an engine call is running.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/logging"
	"github.com/born-ml/graphnet/internal/observability"
	"github.com/born-ml/graphnet/internal/parallel"
)

// Engine runs batch evaluations over one graph.
type Engine struct {
	g       *graph.Graph
	cfg     parallel.Config
	logger  *zap.Logger
	metrics *observability.Collector
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallel sets the chunking configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithWorkers uses n workers. Zero or less keeps the CPU-based default.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cfg = parallel.WithWorkers(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithMetrics records evaluation metrics on c.
func WithMetrics(c *observability.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// New validates g and returns an engine for it.
func New(g *graph.Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine: nil graph")
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		g:      g,
		cfg:    parallel.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	return e, nil
}

// Graph returns the evaluated graph.
func (e *Engine) Graph() *graph.Graph { return e.g }

// run calls fn for every row in [0, n). It stops at the first error or when
// ctx is cancelled and reports the earliest failing row it saw.
func (e *Engine) run(ctx context.Context, mode string, n int, fn func(ev *graph.Evaluator, i int) error) (err error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		e.metrics.ObserveEvaluation(mode, n, elapsed, err)
		if err != nil {
			e.logger.Debug("evaluation failed", zap.String("mode", mode), zap.Int("rows", n), zap.Error(err))
			return
		}
		e.logger.Debug("evaluation done", zap.String("mode", mode), zap.Int("rows", n), zap.Duration("elapsed", elapsed))
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		failed   atomic.Bool
		mu       sync.Mutex
		firstRow = n
		firstErr error
	)
	parallel.ForChunk(n, func(lo, hi int) {
		ev := e.g.NewEvaluator()
		for i := lo; i < hi; i++ {
			if failed.Load() || ctx.Err() != nil {
				return
			}
			if err := fn(ev, i); err != nil {
				mu.Lock()
				if i < firstRow {
					firstRow, firstErr = i, fmt.Errorf("row %d: %w", i, err)
				}
				mu.Unlock()
				failed.Store(true)
				return
			}
		}
	}, e.cfg)

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// EvaluateBatch evaluates every row as the single input vector of the graph.
func (e *Engine) EvaluateBatch(ctx context.Context, rows [][]float64) ([][]float64, error) {
	results := make([][]float64, len(rows))
	err := e.run(ctx, observability.ModeBatch, len(rows), func(ev *graph.Evaluator, i int) error {
		out, err := ev.GetResults(rows[i])
		results[i] = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateBatchFor evaluates graphs with several input layers, one input
// mapping per row.
func (e *Engine) EvaluateBatchFor(ctx context.Context, rows []map[graph.LayerID][]float64) ([][]float64, error) {
	results := make([][]float64, len(rows))
	err := e.run(ctx, observability.ModeBatch, len(rows), func(ev *graph.Evaluator, i int) error {
		out, err := ev.GetResultsFor(rows[i])
		results[i] = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Embeddings returns the matrix whose row i holds GetResult(i, j, inputValue)
// for every output node j. With a hidden layer as output (see
// graph.Graph.WithOutput) row i is the embedding of input token i.
// Metrics count one evaluation per row.
func (e *Engine) Embeddings(ctx context.Context, inputValue float64) ([][]float64, error) {
	inputs, err := e.g.InputLayers(e.g.OutputID())
	if err != nil {
		return nil, err
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %d reachable input layers", graph.ErrAmbiguousInput, len(inputs))
	}
	in, err := e.g.Layer(inputs[0])
	if err != nil {
		return nil, err
	}
	width := e.g.Output().Len()

	matrix := make([][]float64, in.Len())
	err = e.run(ctx, observability.ModeEmbedding, in.Len(), func(ev *graph.Evaluator, i int) error {
		row := make([]float64, width)
		for j := range row {
			v, err := ev.GetResult(i, j, inputValue)
			if err != nil {
				return err
			}
			row[j] = v
		}
		matrix[i] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

// Lookup computes one output node for a one-hot input.
func (e *Engine) Lookup(ctx context.Context, inputIndex, outputIndex int, inputValue float64) (v float64, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveEvaluation(observability.ModeLookup, 1, time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return e.g.NewEvaluator().GetResult(inputIndex, outputIndex, inputValue)
}
