// Package engine is an in-memory executor for conflux graphs.
//
// Each run is a pipz sequence over an execution frame: sources are read,
// then every topological level of the graph runs with its stages in
// parallel, then sinks are written. Source taps must implement Source and
// sink taps Sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/conflux"
	"github.com/zoobzio/conflux/internal/logging"
)

// Source is a tap the engine can read records from.
type Source interface {
	conflux.Tap
	Read(ctx context.Context) ([]conflux.Tuple, error)
}

// Sink is a tap the engine can write records to. Each Write gets its own
// copy of the records, so a sink may modify them.
type Sink interface {
	conflux.Tap
	Write(ctx context.Context, schema conflux.Schema, rows []conflux.Tuple) error
}

// Sentinel errors.
var (
	ErrNotSource = errors.New("tap cannot be read")
	ErrNotSink   = errors.New("tap cannot be written")
	ErrWidth     = errors.New("record width does not match schema")
)

// DefaultParallelism bounds the stages or sinks running at once.
const DefaultParallelism = 4

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to the "engine" component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithParallelism bounds concurrent stages per level and concurrent sink writes.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// Engine runs graphs in memory. It implements conflux.Executor.
type Engine struct {
	logger      *slog.Logger
	registerer  prometheus.Registerer
	metrics     *metrics
	parallelism int
}

var _ conflux.Executor = (*Engine)(nil)

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.New("engine")
	}
	e.metrics = newMetrics(e.registerer)
	return e
}

// Result holds the records of every stream of an execution, keyed by
// stream name.
type Result struct {
	ID       string
	Streams  map[string][]conflux.Tuple
	Duration time.Duration
}

// Records returns the records of a stream.
func (r *Result) Records(stream string) []conflux.Tuple { return r.Streams[stream] }

// Submit checks the graph's taps and starts running it in the background.
func (e *Engine) Submit(ctx context.Context, g *conflux.Graph) (conflux.ExecutionHandle, error) {
	if err := checkTaps(g); err != nil {
		return nil, err
	}
	x := &Execution{id: uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(x.done)
		x.result, x.err = e.run(ctx, x.id, g)
	}()
	return x, nil
}

// Run executes the graph and waits for it.
func (e *Engine) Run(ctx context.Context, g *conflux.Graph) (*Result, error) {
	if err := checkTaps(g); err != nil {
		return nil, err
	}
	return e.run(ctx, uuid.NewString(), g)
}

func checkTaps(g *conflux.Graph) error {
	for _, b := range g.Sources() {
		if _, ok := b.Tap.(Source); !ok {
			return fmt.Errorf("source %q tap %q: %w", b.Stream.Name(), b.Tap.ID(), ErrNotSource)
		}
	}
	for _, b := range g.Sinks() {
		if _, ok := b.Tap.(Sink); !ok {
			return fmt.Errorf("sink %q tap %q: %w", b.Stream.Name(), b.Tap.ID(), ErrNotSink)
		}
	}
	return nil
}

// frame carries the records of each stream through one execution.
type frame struct {
	mu   sync.RWMutex
	rows map[int][]conflux.Tuple
}

func (f *frame) get(s conflux.Stream) []conflux.Tuple {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rows[s.ID()]
}

func (f *frame) put(s conflux.Stream, rows []conflux.Tuple) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID()] = rows
}

func (e *Engine) run(ctx context.Context, id string, g *conflux.Graph) (*Result, error) {
	start := time.Now()
	log := e.logger.With(slog.String("execution", id), slog.String("flow", g.Name()))
	capitan.Emit(ctx, conflux.ExecutionStarted,
		conflux.KeyName.Field(g.Name()),
		conflux.KeyExecution.Field(id))
	log.Debug("execution started", slog.Int("stages", len(g.Stages())))

	f := &frame{rows: make(map[int][]conflux.Tuple)}
	_, err := e.pipeline(g, id).Process(ctx, f)
	elapsed := time.Since(start)
	e.metrics.duration.Observe(elapsed.Seconds())
	if err != nil {
		e.metrics.executions.WithLabelValues("failed").Inc()
		capitan.Emit(ctx, conflux.ExecutionFailed,
			conflux.KeyName.Field(g.Name()),
			conflux.KeyExecution.Field(id),
			conflux.KeyError.Field(err.Error()),
			conflux.KeyDuration.Field(elapsed))
		log.Error("execution failed", slog.Any("error", err))
		return nil, fmt.Errorf("execution %s: %w", id, err)
	}

	e.metrics.executions.WithLabelValues("succeeded").Inc()
	capitan.Emit(ctx, conflux.ExecutionCompleted,
		conflux.KeyName.Field(g.Name()),
		conflux.KeyExecution.Field(id),
		conflux.KeyDuration.Field(elapsed))
	log.Info("execution completed", slog.Duration("duration", elapsed))

	res := &Result{ID: id, Streams: make(map[string][]conflux.Tuple), Duration: elapsed}
	for _, s := range g.Streams() {
		res.Streams[s.Name()] = f.get(s)
	}
	return res, nil
}

// pipeline builds the processor sequence for one execution.
func (e *Engine) pipeline(g *conflux.Graph, id string) *pipz.Sequence[*frame] {
	steps := []pipz.Chainable[*frame]{
		pipz.Apply("read-sources", func(ctx context.Context, f *frame) (*frame, error) {
			return f, e.readSources(ctx, g, f)
		}),
	}
	for i, level := range g.Levels() {
		steps = append(steps, pipz.Apply(pipz.Name(fmt.Sprintf("level-%d", i)), func(ctx context.Context, f *frame) (*frame, error) {
			return f, e.runLevel(ctx, g, id, level, f)
		}))
	}
	steps = append(steps, pipz.Apply("write-sinks", func(ctx context.Context, f *frame) (*frame, error) {
		return f, e.writeSinks(ctx, g, id, f)
	}))
	return pipz.NewSequence(pipz.Name(g.Name()+"-execution"), steps...)
}

func (e *Engine) readSources(ctx context.Context, g *conflux.Graph, f *frame) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallelism)
	for _, b := range g.Sources() {
		eg.Go(func() error {
			rows, err := b.Tap.(Source).Read(ctx)
			if err != nil {
				return fmt.Errorf("read source %q from %q: %w", b.Stream.Name(), b.Tap.ID(), err)
			}
			schema, _ := g.Schema(b.Stream)
			if err := checkWidth(schema, rows); err != nil {
				return fmt.Errorf("source %q: %w", b.Stream.Name(), err)
			}
			f.put(b.Stream, rows)
			return nil
		})
	}
	return eg.Wait()
}

func (e *Engine) runLevel(ctx context.Context, g *conflux.Graph, id string, level []conflux.Stage, f *frame) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallelism)
	for _, stage := range level {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			schemas := make([]conflux.Schema, len(stage.Inputs))
			inputs := make([][]conflux.Tuple, len(stage.Inputs))
			for i, in := range stage.Inputs {
				schemas[i], _ = g.Schema(in)
				inputs[i] = f.get(in)
			}
			rows, err := evaluate(stage, schemas, inputs)
			if err != nil {
				return err
			}
			f.put(stage.Output, rows)

			e.metrics.records.WithLabelValues(stage.Name, string(stage.Kind())).Add(float64(len(rows)))
			capitan.Emit(ctx, conflux.StageCompleted,
				conflux.KeyExecution.Field(id),
				conflux.KeyStage.Field(stage.Name),
				conflux.KeyKind.Field(string(stage.Kind())),
				conflux.KeyRecords.Field(len(rows)),
				conflux.KeyDuration.Field(time.Since(start)))
			return nil
		})
	}
	return eg.Wait()
}

func (e *Engine) writeSinks(ctx context.Context, g *conflux.Graph, id string, f *frame) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallelism)
	for _, b := range g.Sinks() {
		eg.Go(func() error {
			schema, _ := g.Schema(b.Stream)
			rows := cloneRows(f.get(b.Stream))
			if err := b.Tap.(Sink).Write(ctx, schema, rows); err != nil {
				return fmt.Errorf("write sink %q to %q: %w", b.Stream.Name(), b.Tap.ID(), err)
			}
			capitan.Emit(ctx, conflux.SinkWritten,
				conflux.KeyExecution.Field(id),
				conflux.KeyStream.Field(b.Stream.Name()),
				conflux.KeyTap.Field(b.Tap.ID()),
				conflux.KeyRecords.Field(len(rows)))
			return nil
		})
	}
	return eg.Wait()
}

// cloneRows copies records. Sibling streams share tuples, and sinks run
// concurrently.
func cloneRows(rows []conflux.Tuple) []conflux.Tuple {
	out := make([]conflux.Tuple, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}

func checkWidth(schema conflux.Schema, rows []conflux.Tuple) error {
	for i, row := range rows {
		if len(row) != schema.Len() {
			return fmt.Errorf("record %d has %d values, schema %s has %d: %w", i, len(row), schema, schema.Len(), ErrWidth)
		}
	}
	return nil
}

// Execution is a running or finished graph execution.
type Execution struct {
	id     string
	done   chan struct{}
	result *Result
	err    error
}

// ID returns the execution's unique identifier.
func (x *Execution) ID() string { return x.id }

// Wait blocks until the execution finishes or ctx is done.
func (x *Execution) Wait(ctx context.Context) error {
	select {
	case <-x.done:
		return x.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the outcome of a finished execution. It blocks until the
// execution is done.
func (x *Execution) Result() (*Result, error) {
	<-x.done
	return x.result, x.err
}
