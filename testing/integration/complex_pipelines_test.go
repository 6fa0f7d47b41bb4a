package integration

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/zoobzio/conflux"
	"github.com/zoobzio/conflux/engine"
	"github.com/zoobzio/conflux/expression"
	"github.com/zoobzio/conflux/internal/logging"
	"github.com/zoobzio/conflux/taps"
	confluxtesting "github.com/zoobzio/conflux/testing"
)

func presidentRows() []conflux.Tuple {
	return []conflux.Tuple{
		{1959, "DeGaulle", "Gaullist"},
		{1969, "Pompidou", "Gaullist"},
		{1974, "Giscard", "UDF"},
		{1981, "Mitterrand", "Socialist"},
		{1995, "Chirac", "Gaullist"},
	}
}

func run(t *testing.T, f *conflux.Factory, def conflux.Definition) *engine.Result {
	t.Helper()
	g, err := f.Build(def)
	if err != nil {
		t.Fatalf("build %s: %v", def.Name, err)
	}
	result, err := engine.New(engine.WithLogger(logging.Discard())).Run(context.Background(), g)
	if err != nil {
		t.Fatalf("run %s: %v", def.Name, err)
	}
	return result
}

func TestComplexPipeline_CoGroupCSV(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}
	presidents := write("presidents.csv", "year,president\n1974,Giscard\n1981,Mitterrand\n1995,Chirac\n")
	parties := write("parties.csv", "year,party\n1981,Socialist\n1995,RPR\n2007,UMP\n")
	output := filepath.Join(dir, "out.csv")

	f := conflux.New()
	f.AddTap(
		taps.NewCSV("presidents", presidents, taps.WithInference()),
		taps.NewCSV("parties", parties, taps.WithInference()),
		taps.NewCSV("output", output),
	)

	def := confluxtesting.NewDefinitionBuilder("cogroup").
		Source("president", "presidents", "year", "president").
		Source("party", "parties", "year", "party").
		Rename("president-renamed", "president", "year", "pre_year").
		Join("joined", []string{"president-renamed", "party"}, [][]string{{"pre_year"}, {"year"}}, "outer").
		Retain("result", "joined", "president", "party").
		Sink("result", "output").
		Build()

	result := run(t, f, def)
	confluxtesting.AssertRows(t, []conflux.Tuple{
		{"Giscard", nil},
		{"Mitterrand", "Socialist"},
		{"Chirac", "RPR"},
		{nil, "UMP"},
	}, result.Records("result"))

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	want := "president,party\nGiscard,\nMitterrand,Socialist\nChirac,RPR\n,UMP\n"
	if string(data) != want {
		t.Errorf("output file:\n%s\nwant:\n%s", data, want)
	}
}

func TestComplexPipeline_PartySplit(t *testing.T) {
	factory := confluxtesting.NewTestFactory(t, conflux.WithCompiler(expression.Compile))
	factory.AddSource("presidents", presidentRows()...)
	factory.AddSink("gaullists")
	factory.AddSink("socialists")
	factory.AddSink("others")

	def := confluxtesting.NewDefinitionBuilder("split").
		Source("president", "presidents", "year", "president", "party").
		FilterExpr("gaullist", "president", `party == "Gaullist"`).
		FilterExpr("socialist", "president", `party == "Socialist"`).
		FilterExpr("other", "president", `party not in ["Gaullist", "Socialist"]`).
		Retain("gaullist-names", "gaullist", "president").
		Retain("socialist-names", "socialist", "president").
		Retain("other-names", "other", "president").
		Sink("gaullist-names", "gaullists").
		Sink("socialist-names", "socialists").
		Sink("other-names", "others").
		Build()

	factory.Run(def)

	confluxtesting.AssertRows(t, []conflux.Tuple{{"DeGaulle"}, {"Pompidou"}, {"Chirac"}}, factory.Sink("gaullists").Rows())
	confluxtesting.AssertRows(t, []conflux.Tuple{{"Mitterrand"}}, factory.Sink("socialists").Rows())
	confluxtesting.AssertRows(t, []conflux.Tuple{{"Giscard"}}, factory.Sink("others").Rows())

	// The three branches partition the source.
	total := len(factory.Sink("gaullists").Rows()) + len(factory.Sink("socialists").Rows()) + len(factory.Sink("others").Rows())
	if total != len(presidentRows()) {
		t.Errorf("branches hold %d records, source has %d", total, len(presidentRows()))
	}
}

func TestComplexPipeline_MsgpackRelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presidents.msgpack")

	first := confluxtesting.NewTestFactory(t)
	first.AddSource("presidents", presidentRows()...)
	first.AddTap(taps.NewMsgpack("relay", path))
	first.Run(confluxtesting.NewDefinitionBuilder("export").
		Source("president", "presidents", "year", "president", "party").
		Retain("export", "president", "president", "year").
		Sink("export", "relay").
		Build())

	second := confluxtesting.NewTestFactory(t, conflux.WithCompiler(expression.Compile))
	second.AddTap(taps.NewMsgpack("relay", path))
	second.AddSink("output")
	second.Run(confluxtesting.NewDefinitionBuilder("import").
		Source("relayed", "relay", "president", "year").
		FilterExpr("recent", "relayed", "year >= 1981").
		Sink("recent", "output").
		Build())

	confluxtesting.AssertRows(t, []conflux.Tuple{
		{"Mitterrand", int64(1981)},
		{"Chirac", int64(1995)},
	}, second.Sink("output").Rows())
}

func TestComplexPipeline_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "flow.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE parties (year INTEGER, party TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO parties VALUES (1981, 'Socialist'), (1995, 'RPR')`); err != nil {
		t.Fatal(err)
	}

	factory := confluxtesting.NewTestFactory(t)
	factory.AddSource("presidents", presidentRows()...)
	factory.AddTap(
		taps.NewSQL("parties", db, "parties"),
		taps.NewSQL("output", db, "joined", taps.WithCreateTable()),
	)

	factory.Run(confluxtesting.NewDefinitionBuilder("sqlite").
		Source("president", "presidents", "year", "president", "affiliation").
		Source("party", "parties", "party_year", "party").
		Join("joined", []string{"president", "party"}, [][]string{{"year"}, {"party_year"}}, "").
		Retain("names", "joined", "president", "party").
		Sink("names", "output").
		Build())

	rows, err := db.Query(`SELECT president, party FROM joined ORDER BY president`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var got []conflux.Tuple
	for rows.Next() {
		var president, party string
		if err := rows.Scan(&president, &party); err != nil {
			t.Fatal(err)
		}
		got = append(got, conflux.Tuple{president, party})
	}
	confluxtesting.AssertRows(t, []conflux.Tuple{{"Chirac", "RPR"}, {"Mitterrand", "Socialist"}}, got)
}

func TestComplexPipeline_ConcurrentExecutions(t *testing.T) {
	factory := confluxtesting.NewTestFactory(t)
	factory.AddSource("presidents", presidentRows()...)
	factory.AddSink("output")

	g, err := factory.Build(confluxtesting.NewDefinitionBuilder("concurrent").
		Source("president", "presidents", "year", "president", "party").
		Retain("names", "president", "president").
		Sink("names", "output").
		Build())
	if err != nil {
		t.Fatal(err)
	}

	eng := engine.New(engine.WithLogger(logging.Discard()), engine.WithParallelism(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := conflux.Submit(ctx, eng, g)
			if err != nil {
				errs <- err
				return
			}
			errs <- handle.Wait(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("execution failed: %v", err)
		}
	}

	if writes := factory.Sink("output").Writes(); writes != 10 {
		t.Errorf("expected 10 writes, got %d", writes)
	}
	confluxtesting.AssertRows(t, []conflux.Tuple{{"DeGaulle"}, {"Pompidou"}, {"Giscard"}, {"Mitterrand"}, {"Chirac"}}, factory.Sink("output").Rows())
}

func TestComplexPipeline_PredicateFailure(t *testing.T) {
	boom := errors.New("boom")
	factory := confluxtesting.NewTestFactory(t)
	factory.AddSource("presidents", presidentRows()...)
	factory.AddSink("output")
	factory.AddPredicate("fragile", []string{"party"}, func(r conflux.Record) (bool, error) {
		if v, _ := r.Get("party"); v == "UDF" {
			return false, boom
		}
		return true, nil
	})

	_, err := factory.TryRun(confluxtesting.NewDefinitionBuilder("fragile").
		Source("president", "presidents", "year", "president", "party").
		Filter("kept", "president", "fragile").
		Sink("kept", "output").
		Build())

	var predErr *conflux.PredicateEvaluationError
	if !errors.As(err, &predErr) {
		t.Fatalf("expected PredicateEvaluationError, got %v", err)
	}
	if predErr.Stage != "kept" {
		t.Errorf("expected stage kept, got %q", predErr.Stage)
	}
	if !errors.Is(err, boom) {
		t.Error("expected the predicate error to be wrapped")
	}
	if factory.Sink("output").Writes() != 0 {
		t.Error("sink must not be written after a failed stage")
	}
}
