package testing

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/conflux"
)

func presidentsFactory(t *testing.T) *TestFactory {
	factory := NewTestFactory(t)
	factory.AddSource("presidents",
		conflux.Tuple{1974, "Giscard"},
		conflux.Tuple{1981, "Mitterrand"},
		conflux.Tuple{1995, "Chirac"},
	)
	factory.AddSink("output")
	return factory
}

func TestNewTestFactory(t *testing.T) {
	factory := NewTestFactory(t)

	if factory == nil {
		t.Fatal("expected non-nil factory")
	}
	if factory.Factory == nil {
		t.Error("expected embedded Factory to be non-nil")
	}
	if factory.t != t {
		t.Error("expected testing.T to be stored")
	}
}

func TestTestFactory_Taps(t *testing.T) {
	factory := presidentsFactory(t)

	if !factory.HasTap("presidents") || !factory.HasTap("output") {
		t.Error("expected memory taps to be registered")
	}
	if got := len(factory.Sink("presidents").Rows()); got != 3 {
		t.Errorf("expected 3 source rows, got %d", got)
	}
}

func TestTestFactory_Run(t *testing.T) {
	factory := presidentsFactory(t)
	factory.AddPredicate("modern", []string{"year"}, func(r conflux.Record) (bool, error) {
		v, _ := r.Get("year")
		return v.(int) >= 1981, nil
	})

	def := NewDefinitionBuilder("modern").
		Source("president", "presidents", "year", "president").
		Filter("recent", "president", "modern").
		Retain("names", "recent", "president").
		Sink("names", "output").
		Build()

	result := factory.Run(def)

	AssertRows(t, []conflux.Tuple{{"Mitterrand"}, {"Chirac"}}, factory.Sink("output").Rows())
	AssertRows(t, factory.Sink("output").Rows(), result.Records("names"))
	factory.AssertCallCount("modern", 3)
	factory.AssertCalled("modern")
}

func TestTestFactory_TryRunError(t *testing.T) {
	factory := presidentsFactory(t)
	def := NewDefinitionBuilder("broken").
		Source("president", "presidents", "year", "president").
		Retain("names", "president", "party").
		Sink("names", "output").
		Build()

	_, err := factory.TryRun(def)
	var unknown *conflux.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
	if unknown.Field != "party" {
		t.Errorf("expected field party, got %q", unknown.Field)
	}
}

func TestTestFactory_CallCount_NonExistent(t *testing.T) {
	factory := NewTestFactory(t)
	if factory.CallCount("absent") != 0 {
		t.Error("expected 0 for unregistered predicate")
	}
}

func TestTestFactory_ResetCounts(t *testing.T) {
	factory := presidentsFactory(t)
	factory.AddPredicate("all", []string{"year"}, func(conflux.Record) (bool, error) { return true, nil })
	factory.AssertNotCalled("all")

	def := NewDefinitionBuilder("all").
		Source("president", "presidents", "year", "president").
		Filter("kept", "president", "all").
		Sink("kept", "output").
		Build()
	factory.Run(def)
	factory.AssertCallCount("all", 3)

	factory.ResetCounts()
	factory.AssertCallCount("all", 0)
}

func TestDefinitionBuilder(t *testing.T) {
	def := NewDefinitionBuilder("cogroup").
		Version("1.0.0").
		Source("president", "presidents", "year", "president").
		Source("party", "parties", "year", "party").
		Rename("president-renamed", "president", "year", "pre_year").
		Join("joined", []string{"president-renamed", "party"}, [][]string{{"pre_year"}, {"year"}}, "left").
		FilterExpr("modern", "joined", "pre_year >= 1981").
		Sink("modern", "output").
		Tail("joined").
		Build()

	if def.Version != "1.0.0" || len(def.Sources) != 2 || len(def.Stages) != 3 {
		t.Fatalf("unexpected definition %+v", def)
	}
	if def.Stages[0].Rename["year"] != "pre_year" {
		t.Errorf("rename mapping = %v", def.Stages[0].Rename)
	}
	if def.Stages[1].Policy != "left" {
		t.Errorf("policy = %q", def.Stages[1].Policy)
	}
	if err := conflux.ValidateDefinitionStructure(def); err != nil {
		t.Errorf("builder produced invalid definition: %v", err)
	}
}

func TestDefinitionBuilder_YAML(t *testing.T) {
	b := NewDefinitionBuilder("yaml").
		Source("president", "presidents", "year", "president").
		Retain("names", "president", "president").
		Sink("names", "output")

	doc := b.YAML()
	for _, want := range []string{"name: yaml", "tap: presidents", "type: retain", "stream: names"} {
		if !strings.Contains(doc, want) {
			t.Errorf("expected YAML to contain %q:\n%s", want, doc)
		}
	}

	def, err := conflux.ParseYAML(doc)
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if def.Stages[0].Input != "president" {
		t.Errorf("round trip lost input: %+v", def.Stages[0])
	}
}

func TestMockExpression(t *testing.T) {
	schema := conflux.MustSchema("year")
	rec := conflux.NewRecord(schema, conflux.Tuple{1981})

	m := NewMockExpression("year")
	if ok, err := m.Evaluate(rec); !ok || err != nil {
		t.Errorf("default = %v, %v", ok, err)
	}

	boom := errors.New("boom")
	m.WithResult(false, boom)
	if _, err := m.Evaluate(rec); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	m.WithMatch(func(r conflux.Record) bool {
		v, _ := r.Get("year")
		return v == 1981
	})
	if ok, _ := m.Evaluate(rec); !ok {
		t.Error("expected match")
	}

	if m.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", m.CallCount())
	}
	m.Reset()
	if m.CallCount() != 0 {
		t.Error("expected reset count")
	}
	if f := m.Fields(); len(f) != 1 || f[0] != "year" {
		t.Errorf("Fields = %v", f)
	}
}

func TestMockExpression_Concurrent(t *testing.T) {
	m := NewMockExpression("year").WithDelay(time.Millisecond)
	rec := conflux.NewRecord(conflux.MustSchema("year"), conflux.Tuple{1})

	ParallelTest(t, 20, func(_ int) {
		_, _ = m.Evaluate(rec) //nolint:errcheck
	})
	if m.CallCount() != 20 {
		t.Errorf("expected 20 calls, got %d", m.CallCount())
	}
}

func TestSortRows(t *testing.T) {
	rows := []conflux.Tuple{{2, "b"}, {1, "a"}}
	sorted := SortRows(rows)
	AssertRows(t, []conflux.Tuple{{1, "a"}, {2, "b"}}, sorted)
	AssertRows(t, []conflux.Tuple{{2, "b"}, {1, "a"}}, rows)
	AssertRowsUnordered(t, []conflux.Tuple{{1, "a"}, {2, "b"}}, rows)
}

func TestBenchmarkHelper_Chain(t *testing.T) {
	h := NewBenchmarkHelper()
	h.RegisterTaps(2)
	if len(h.Factory().ListTaps()) != 2 {
		t.Fatalf("expected 2 taps, got %v", h.Factory().ListTaps())
	}

	for _, n := range []int{1, 2, 7} {
		def := h.GenerateChainDefinition(n)
		if len(def.Stages) != n {
			t.Errorf("chain %d: %d stages", n, len(def.Stages))
		}
		if _, err := h.Factory().Build(def); err != nil {
			t.Errorf("chain %d: %v", n, err)
		}
	}
}

func TestBenchmarkHelper_WideJoin(t *testing.T) {
	h := NewBenchmarkHelper()
	h.RegisterTaps(4)

	g, err := h.Factory().Build(h.GenerateWideJoinDefinition(4))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	joined, _ := g.Stage("joined")
	if joined.Schema.Len() != 8 {
		t.Errorf("expected 8 joined fields, got %v", joined.Schema)
	}
}

func TestGenerateRows(t *testing.T) {
	rows := GenerateRows(10, 3)
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	if rows[4][0] != 1 {
		t.Errorf("expected key 1, got %v", rows[4][0])
	}
}

func TestMeasureLatency(t *testing.T) {
	duration := MeasureLatency(func() {
		time.Sleep(10 * time.Millisecond)
	})

	if duration < 10*time.Millisecond {
		t.Errorf("expected at least 10ms, got %v", duration)
	}
}

func TestMeasureLatencyWithResult(t *testing.T) {
	result, duration := MeasureLatencyWithResult(func() int {
		time.Sleep(10 * time.Millisecond)
		return 42
	})

	if result != 42 {
		t.Errorf("expected result=42, got %d", result)
	}
	if duration < 10*time.Millisecond {
		t.Errorf("expected at least 10ms, got %v", duration)
	}
}

func TestParallelTest(t *testing.T) {
	var counter int64
	var mu sync.Mutex

	ParallelTest(t, 10, func(_ int) {
		mu.Lock()
		counter++
		mu.Unlock()
	})

	if counter != 10 {
		t.Errorf("expected counter=10, got %d", counter)
	}
}

func TestWaitForCondition_Success(t *testing.T) {
	var ready int64
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt64(&ready, 1)
	}()

	success := WaitForCondition(100*time.Millisecond, func() bool {
		return atomic.LoadInt64(&ready) == 1
	})

	if !success {
		t.Error("expected condition to succeed")
	}
}

func TestWaitForCondition_Timeout(t *testing.T) {
	success := WaitForCondition(50*time.Millisecond, func() bool {
		return false // Never becomes true
	})

	if success {
		t.Error("expected condition to timeout")
	}
}
