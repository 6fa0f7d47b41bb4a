// Package testing provides test utilities and helpers for conflux-based applications.
//
// This package includes in-memory taps, call-tracking predicates, a fluent
// definition builder and row assertions to make testing conflux flows easier.
//
// Example usage:
//
//	func TestMyFlow(t *testing.T) {
//		factory := testing.NewTestFactory(t)
//		factory.AddSource("presidents", conflux.Tuple{1981, "Mitterrand"})
//		factory.AddSink("output")
//
//		def := testing.NewDefinitionBuilder("presidents").
//			Source("president", "presidents", "year", "president").
//			Retain("names", "president", "president").
//			Sink("names", "output").
//			Build()
//
//		factory.Run(def)
//		testing.AssertRows(t, []conflux.Tuple{{"Mitterrand"}}, factory.Sink("output").Rows())
//	}
package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/zoobzio/conflux"
	"github.com/zoobzio/conflux/engine"
	"github.com/zoobzio/conflux/internal/logging"
	"github.com/zoobzio/conflux/taps"
)

// TestFactory wraps a conflux.Factory with memory taps and predicate call tracking.
type TestFactory struct {
	*conflux.Factory
	t              testing.TB
	memory         map[string]*taps.Memory
	predicateCalls map[string]*int64
	mu             sync.RWMutex
}

// NewTestFactory creates a new test factory with tracking capabilities.
func NewTestFactory(t testing.TB, opts ...conflux.Option) *TestFactory {
	return &TestFactory{
		Factory:        conflux.New(opts...),
		t:              t,
		memory:         make(map[string]*taps.Memory),
		predicateCalls: make(map[string]*int64),
	}
}

// AddSource registers a memory tap holding rows.
func (f *TestFactory) AddSource(id string, rows ...conflux.Tuple) *taps.Memory {
	m := taps.NewMemory(id, rows...)
	f.mu.Lock()
	f.memory[id] = m
	f.mu.Unlock()
	f.Factory.AddTap(m)
	return m
}

// AddSink registers an empty memory tap.
func (f *TestFactory) AddSink(id string) *taps.Memory {
	return f.AddSource(id)
}

// Sink returns the memory tap registered under id.
func (f *TestFactory) Sink(id string) *taps.Memory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.memory[id]
	if !ok {
		f.t.Fatalf("no memory tap %q", id)
	}
	return m
}

// AddPredicate registers a named predicate with call tracking.
func (f *TestFactory) AddPredicate(name string, fields []string, fn func(conflux.Record) (bool, error)) {
	f.mu.Lock()
	counter := new(int64)
	f.predicateCalls[name] = counter
	f.mu.Unlock()

	f.Factory.AddPredicate(conflux.Predicate{
		Name: name,
		Expression: conflux.PredicateFunc(fields, func(r conflux.Record) (bool, error) {
			atomic.AddInt64(counter, 1)
			return fn(r)
		}),
	})
}

// Run builds and executes def, failing the test on any error.
func (f *TestFactory) Run(def conflux.Definition) *engine.Result {
	f.t.Helper()
	result, err := f.TryRun(def)
	if err != nil {
		f.t.Fatalf("run %s: %v", def.Name, err)
	}
	return result
}

// TryRun builds and executes def.
func (f *TestFactory) TryRun(def conflux.Definition) (*engine.Result, error) {
	g, err := f.Build(def)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.WithLogger(logging.Discard())).Run(context.Background(), g)
}

// CallCount returns the number of records a predicate was evaluated on.
func (f *TestFactory) CallCount(name string) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if counter, ok := f.predicateCalls[name]; ok {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// ResetCounts resets all predicate call counts.
func (f *TestFactory) ResetCounts() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, counter := range f.predicateCalls {
		atomic.StoreInt64(counter, 0)
	}
}

// AssertCalled verifies a predicate was evaluated at least once.
func (f *TestFactory) AssertCalled(name string) {
	f.t.Helper()
	if f.CallCount(name) == 0 {
		f.t.Errorf("expected predicate %q to be called, but it was not", name)
	}
}

// AssertNotCalled verifies a predicate was never evaluated.
func (f *TestFactory) AssertNotCalled(name string) {
	f.t.Helper()
	if count := f.CallCount(name); count > 0 {
		f.t.Errorf("expected predicate %q to not be called, but it was called %d times", name, count)
	}
}

// AssertCallCount verifies a predicate was evaluated exactly n times.
func (f *TestFactory) AssertCallCount(name string, expected int64) {
	f.t.Helper()
	actual := f.CallCount(name)
	if actual != expected {
		f.t.Errorf("expected predicate %q to be called %d times, but it was called %d times", name, expected, actual)
	}
}

// DefinitionBuilder provides a fluent API for building test definitions.
type DefinitionBuilder struct {
	def conflux.Definition
}

// NewDefinitionBuilder creates a builder for a named definition.
func NewDefinitionBuilder(name string) *DefinitionBuilder {
	return &DefinitionBuilder{def: conflux.Definition{Name: name}}
}

// Version sets the definition version.
func (b *DefinitionBuilder) Version(v string) *DefinitionBuilder {
	b.def.Version = v
	return b
}

// Source declares a root stream fed by tap.
func (b *DefinitionBuilder) Source(name, tap string, fields ...string) *DefinitionBuilder {
	b.def.Sources = append(b.def.Sources, conflux.SourceDef{Name: name, Tap: tap, Fields: fields})
	return b
}

// Rename adds a rename stage. Pairs alternate old and new names.
func (b *DefinitionBuilder) Rename(name, input string, pairs ...string) *DefinitionBuilder {
	mapping := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		mapping[pairs[i]] = pairs[i+1]
	}
	return b.stage(conflux.StageDef{Name: name, Type: "rename", Input: input, Rename: mapping})
}

// Retain adds a retain stage.
func (b *DefinitionBuilder) Retain(name, input string, fields ...string) *DefinitionBuilder {
	return b.stage(conflux.StageDef{Name: name, Type: "retain", Input: input, Fields: fields})
}

// Filter adds a filter stage using a registered predicate.
func (b *DefinitionBuilder) Filter(name, input, predicate string) *DefinitionBuilder {
	return b.stage(conflux.StageDef{Name: name, Type: "filter", Input: input, Predicate: predicate})
}

// FilterExpr adds a filter stage using an inline expression.
func (b *DefinitionBuilder) FilterExpr(name, input, expression string) *DefinitionBuilder {
	return b.stage(conflux.StageDef{Name: name, Type: "filter", Input: input, Expression: expression})
}

// Join adds a join stage with one key list per input.
func (b *DefinitionBuilder) Join(name string, inputs []string, keys [][]string, policy string) *DefinitionBuilder {
	return b.stage(conflux.StageDef{Name: name, Type: "join", Inputs: inputs, Keys: keys, Policy: policy})
}

// Sink binds a stream to a tap.
func (b *DefinitionBuilder) Sink(stream, tap string) *DefinitionBuilder {
	b.def.Sinks = append(b.def.Sinks, conflux.SinkDef{Stream: stream, Tap: tap})
	return b
}

// Tail declares streams as tails.
func (b *DefinitionBuilder) Tail(streams ...string) *DefinitionBuilder {
	b.def.Tails = append(b.def.Tails, streams...)
	return b
}

func (b *DefinitionBuilder) stage(s conflux.StageDef) *DefinitionBuilder {
	b.def.Stages = append(b.def.Stages, s)
	return b
}

// Build returns the definition.
func (b *DefinitionBuilder) Build() conflux.Definition {
	return b.def
}

// YAML returns the definition as a YAML document.
func (b *DefinitionBuilder) YAML() string {
	data, err := yaml.Marshal(b.def)
	if err != nil {
		panic(fmt.Sprintf("marshal definition: %v", err))
	}
	return string(data)
}

// MockExpression provides a configurable Expression for testing filters.
type MockExpression struct {
	fields    []string
	result    bool
	err       error
	match     func(conflux.Record) bool
	callCount int64
	delay     time.Duration
	mu        sync.RWMutex
}

// NewMockExpression creates a mock expression reading fields. It matches
// every record until configured otherwise.
func NewMockExpression(fields ...string) *MockExpression {
	return &MockExpression{fields: fields, result: true}
}

// WithResult configures the mock to return a fixed result.
func (m *MockExpression) WithResult(ok bool, err error) *MockExpression {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = ok
	m.err = err
	m.match = nil
	return m
}

// WithMatch configures the mock to decide per record.
func (m *MockExpression) WithMatch(fn func(conflux.Record) bool) *MockExpression {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.match = fn
	return m
}

// WithDelay configures the mock to sleep on every evaluation.
func (m *MockExpression) WithDelay(d time.Duration) *MockExpression {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Fields implements conflux.Expression.
func (m *MockExpression) Fields() []string {
	return append([]string(nil), m.fields...)
}

// Evaluate implements conflux.Expression.
func (m *MockExpression) Evaluate(record conflux.Record) (bool, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.RLock()
	result, err, match, delay := m.result, m.err, m.match, m.delay
	m.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if match != nil {
		return match(record), nil
	}
	return result, err
}

// CallCount returns the number of times Evaluate has been called.
func (m *MockExpression) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// Reset clears call tracking.
func (m *MockExpression) Reset() {
	atomic.StoreInt64(&m.callCount, 0)
}

// AssertRows compares rows in order.
func AssertRows(t testing.TB, want, got []conflux.Tuple) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

// AssertRowsUnordered compares rows ignoring order.
func AssertRowsUnordered(t testing.TB, want, got []conflux.Tuple) {
	t.Helper()
	AssertRows(t, SortRows(want), SortRows(got))
}

// SortRows returns a copy of rows sorted by their printed form.
func SortRows(rows []conflux.Tuple) []conflux.Tuple {
	out := append([]conflux.Tuple(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

// BenchmarkHelper provides utilities for benchmarking conflux operations.
type BenchmarkHelper struct {
	factory *conflux.Factory
}

// NewBenchmarkHelper creates a new benchmark helper.
func NewBenchmarkHelper() *BenchmarkHelper {
	return &BenchmarkHelper{factory: conflux.New()}
}

// Factory returns the underlying factory.
func (h *BenchmarkHelper) Factory() *conflux.Factory {
	return h.factory
}

// RegisterTaps registers n named taps, tap-0 through tap-(n-1).
func (h *BenchmarkHelper) RegisterTaps(n int) {
	for i := 0; i < n; i++ {
		h.factory.AddTap(conflux.TapName(fmt.Sprintf("tap-%d", i)))
	}
}

// GenerateChainDefinition generates a definition reading tap-0 through n
// stages into tap-1. Odd stages swap the two fields, even stages restore
// their order.
func (*BenchmarkHelper) GenerateChainDefinition(n int) conflux.Definition {
	b := NewDefinitionBuilder(fmt.Sprintf("chain-%d", n)).
		Source("s0", "tap-0", "a", "b")
	prev := "s0"
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("s%d", i)
		if i%2 == 1 {
			b.Rename(name, prev, "a", "b", "b", "a")
		} else {
			b.Retain(name, prev, "a", "b")
		}
		prev = name
	}
	return b.Sink(prev, "tap-1").Build()
}

// GenerateWideJoinDefinition generates a definition joining n sources on a
// shared key, each source renamed apart first.
func (*BenchmarkHelper) GenerateWideJoinDefinition(n int) conflux.Definition {
	b := NewDefinitionBuilder(fmt.Sprintf("join-%d", n))
	inputs := make([]string, n)
	keys := make([][]string, n)
	for i := 0; i < n; i++ {
		src := fmt.Sprintf("src-%d", i)
		b.Source(src, fmt.Sprintf("tap-%d", i), "k", "v")
		inputs[i] = fmt.Sprintf("r-%d", i)
		b.Rename(inputs[i], src, "k", fmt.Sprintf("k%d", i), "v", fmt.Sprintf("v%d", i))
		keys[i] = []string{fmt.Sprintf("k%d", i)}
	}
	return b.Join("joined", inputs, keys, "").Sink("joined", "tap-0").Build()
}

// GenerateRows generates n two-field rows keyed 0 through keys-1.
func GenerateRows(n, keys int) []conflux.Tuple {
	rows := make([]conflux.Tuple, n)
	for i := range rows {
		rows[i] = conflux.Tuple{i % keys, strings.Repeat("x", 1+i%8)}
	}
	return rows
}

// MeasureLatency measures the latency of a function call.
func MeasureLatency(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}

// MeasureLatencyWithResult measures the latency and returns both result and duration.
func MeasureLatencyWithResult[T any](fn func() T) (T, time.Duration) {
	start := time.Now()
	result := fn()
	return result, time.Since(start)
}

// ParallelTest runs a test function in parallel with multiple goroutines.
func ParallelTest(t *testing.T, goroutines int, testFunc func(id int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}

	wg.Wait()
}

// WaitForCondition waits for a condition to be true with a timeout.
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
