package conflux_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zoobzio/conflux"
)

var (
	schemaA = conflux.MustSchema("a_id", "a_val")
	schemaB = conflux.MustSchema("b_id", "b_val")
	rowsA   = []conflux.Tuple{{1, "x"}, {2, "y"}}
	rowsB   = []conflux.Tuple{{1, "p"}, {1, "q"}, {3, "r"}}
)

func TestCoGroupPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy conflux.JoinPolicy
		want   []conflux.Tuple
	}{
		{
			name:   "inner",
			policy: conflux.InnerJoin,
			want:   []conflux.Tuple{{1, "x", 1, "p"}, {1, "x", 1, "q"}},
		},
		{
			name:   "left",
			policy: conflux.LeftJoin,
			want:   []conflux.Tuple{{1, "x", 1, "p"}, {1, "x", 1, "q"}, {2, "y", nil, nil}},
		},
		{
			name:   "right",
			policy: conflux.RightJoin,
			want:   []conflux.Tuple{{1, "x", 1, "p"}, {1, "x", 1, "q"}, {nil, nil, 3, "r"}},
		},
		{
			name:   "outer",
			policy: conflux.OuterJoin,
			want:   []conflux.Tuple{{1, "x", 1, "p"}, {1, "x", 1, "q"}, {2, "y", nil, nil}, {nil, nil, 3, "r"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conflux.CoGroup(
				[]conflux.Schema{schemaA, schemaB},
				[][]conflux.Tuple{rowsA, rowsB},
				[][]string{{"a_id"}, {"b_id"}},
				tt.policy,
			)
			if err != nil {
				t.Fatalf("CoGroup: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("CoGroup mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCoGroupCrossProductOrder(t *testing.T) {
	got, err := conflux.CoGroup(
		[]conflux.Schema{conflux.MustSchema("k", "l"), conflux.MustSchema("k2", "r")},
		[][]conflux.Tuple{
			{{"a", 1}, {"a", 2}},
			{{"a", "p"}, {"a", "q"}},
		},
		[][]string{{"k"}, {"k2"}},
		conflux.InnerJoin,
	)
	if err != nil {
		t.Fatalf("CoGroup: %v", err)
	}
	want := []conflux.Tuple{
		{"a", 1, "a", "p"},
		{"a", 1, "a", "q"},
		{"a", 2, "a", "p"},
		{"a", 2, "a", "q"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CoGroup mismatch (-want +got):\n%s", diff)
	}
}

func TestCoGroupThreeInputsCompositeKey(t *testing.T) {
	got, err := conflux.CoGroup(
		[]conflux.Schema{
			conflux.MustSchema("y1", "m1", "a"),
			conflux.MustSchema("y2", "m2", "b"),
			conflux.MustSchema("y3", "m3", "c"),
		},
		[][]conflux.Tuple{
			{{1981, 5, "a1"}, {1981, 6, "a2"}},
			{{1981, 5, "b1"}},
			{{int64(1981), uint8(5), "c1"}, {1981, 6, "c2"}},
		},
		[][]string{{"y1", "m1"}, {"y2", "m2"}, {"y3", "m3"}},
		conflux.InnerJoin,
	)
	if err != nil {
		t.Fatalf("CoGroup: %v", err)
	}
	want := []conflux.Tuple{{1981, 5, "a1", 1981, 5, "b1", int64(1981), uint8(5), "c1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CoGroup mismatch (-want +got):\n%s", diff)
	}
}

func TestCoGroupFloatDoesNotMatchInt(t *testing.T) {
	got, err := conflux.CoGroup(
		[]conflux.Schema{schemaA, schemaB},
		[][]conflux.Tuple{{{1, "x"}}, {{1.0, "p"}}},
		[][]string{{"a_id"}, {"b_id"}},
		conflux.InnerJoin,
	)
	if err != nil {
		t.Fatalf("CoGroup: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestCoGroupErrors(t *testing.T) {
	keys := [][]string{{"a_id"}, {"b_id"}}

	_, err := conflux.CoGroup([]conflux.Schema{schemaA}, [][]conflux.Tuple{rowsA, rowsB}, keys, conflux.InnerJoin)
	if err == nil {
		t.Error("expected error for schema count mismatch")
	}

	_, err = conflux.CoGroup([]conflux.Schema{schemaA, schemaB}, [][]conflux.Tuple{{{1}}, rowsB}, keys, conflux.InnerJoin)
	if err == nil {
		t.Error("expected error for short record")
	}

	_, err = conflux.CoGroup([]conflux.Schema{schemaA, schemaB}, [][]conflux.Tuple{rowsA, rowsB},
		[][]string{{"a_id"}, {"missing"}}, conflux.InnerJoin)
	var unknown *conflux.UnknownFieldError
	if !errors.As(err, &unknown) || unknown.Field != "missing" {
		t.Errorf("expected UnknownFieldError on missing, got %v", err)
	}
}

func TestJoinDuplicateFieldAtBuild(t *testing.T) {
	asm := conflux.NewAssembly()
	presidents := asm.Source("president", conflux.MustSchema("year", "president"))
	parties := asm.Source("party", conflux.MustSchema("year", "party"))
	joined := asm.Join("joined", []conflux.Stream{presidents, parties}, [][]string{{"year"}, {"year"}}, conflux.InnerJoin)

	_, err := conflux.NewFlowDef("dup").
		AddSource(presidents, conflux.TapName("presidents")).
		AddSource(parties, conflux.TapName("parties")).
		AddSink(joined, conflux.TapName("out")).
		Build()

	var dup *conflux.DuplicateFieldError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateFieldError, got %v", err)
	}
	if dup.Field != "year" || dup.Stage != "joined" {
		t.Errorf("got field %q stage %q, want year/joined", dup.Field, dup.Stage)
	}
}

func TestJoinKeyDeclarationErrors(t *testing.T) {
	tests := []struct {
		name string
		keys [][]string
	}{
		{"too few key lists", [][]string{{"year"}}},
		{"empty key", [][]string{{"pre_year"}, {}}},
		{"width mismatch", [][]string{{"pre_year"}, {"year", "party"}}},
		{"missing key field", [][]string{{"pre_year"}, {"term"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := conflux.NewAssembly()
			presidents := asm.Source("president", conflux.MustSchema("pre_year", "president"))
			parties := asm.Source("party", conflux.MustSchema("year", "party"))
			joined := asm.Join("joined", []conflux.Stream{presidents, parties}, tt.keys, conflux.InnerJoin)

			_, err := conflux.NewFlowDef("keys").
				AddSource(presidents, conflux.TapName("presidents")).
				AddSource(parties, conflux.TapName("parties")).
				AddSink(joined, conflux.TapName("out")).
				Build()
			var unknown *conflux.UnknownFieldError
			if !errors.As(err, &unknown) {
				t.Fatalf("expected UnknownFieldError, got %v", err)
			}
			if unknown.Stage != "joined" {
				t.Errorf("Stage = %q, want joined", unknown.Stage)
			}
		})
	}
}

func TestJoinPolicyParsing(t *testing.T) {
	tests := []struct {
		in      string
		want    conflux.JoinPolicy
		wantErr bool
	}{
		{"", conflux.InnerJoin, false},
		{"inner", conflux.InnerJoin, false},
		{"LEFT", conflux.LeftJoin, false},
		{"right", conflux.RightJoin, false},
		{"full", conflux.OuterJoin, false},
		{"outer", conflux.OuterJoin, false},
		{"cross", conflux.InnerJoin, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := conflux.ParseJoinPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJoinPolicy(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseJoinPolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if s := conflux.OuterJoin.String(); s != "outer" {
		t.Errorf("String = %q", s)
	}
	if diff := cmp.Diff([]bool{false, false, true}, conflux.RightJoin.Required(3)); diff != "" {
		t.Errorf("Required mismatch (-want +got):\n%s", diff)
	}
}

func TestCoGroupEmptyInput(t *testing.T) {
	schemas := []conflux.Schema{schemaA, schemaB}
	keys := [][]string{{"a_id"}, {"b_id"}}

	for _, empty := range [][]conflux.Tuple{nil, {}} {
		got, err := conflux.CoGroup(schemas, [][]conflux.Tuple{rowsA, empty}, keys, conflux.InnerJoin)
		if err != nil {
			t.Fatalf("CoGroup: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("inner join with an empty input = %v, want nothing", got)
		}
	}

	got, err := conflux.CoGroup(schemas, [][]conflux.Tuple{rowsA, nil}, keys, conflux.LeftJoin)
	if err != nil {
		t.Fatalf("CoGroup: %v", err)
	}
	want := []conflux.Tuple{{1, "x", nil, nil}, {2, "y", nil, nil}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("left join mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinSharedKeyName(t *testing.T) {
	asm := conflux.NewAssembly()
	left := asm.Source("left", conflux.MustSchema("id", "l"))
	right := asm.Source("right", conflux.MustSchema("id", "r"))
	joined := asm.Join("joined", []conflux.Stream{left, right}, [][]string{{"id"}, {"id"}}, conflux.InnerJoin)

	_, err := conflux.NewFlowDef("shared").
		AddSource(left, conflux.TapName("left")).
		AddSource(right, conflux.TapName("right")).
		AddSink(joined, conflux.TapName("out")).
		Build()
	var dup *conflux.DuplicateFieldError
	if !errors.As(err, &dup) || dup.Field != "id" {
		t.Fatalf("expected DuplicateFieldError on id, got %v", err)
	}

	asm = conflux.NewAssembly()
	left = asm.Source("left", conflux.MustSchema("id", "l"))
	right = asm.Source("right", conflux.MustSchema("id", "r"))
	renamed := asm.Rename("right-renamed", right, map[string]string{"id": "r_id"})
	joined = asm.Join("joined", []conflux.Stream{left, renamed}, [][]string{{"id"}, {"r_id"}}, conflux.InnerJoin)

	g, err := conflux.NewFlowDef("renamed").
		AddSource(left, conflux.TapName("left")).
		AddSource(right, conflux.TapName("right")).
		AddSink(joined, conflux.TapName("out")).
		Build()
	if err != nil {
		t.Fatalf("Build after rename: %v", err)
	}
	schema, _ := g.Schema(joined)
	if diff := cmp.Diff([]string{"id", "l", "r_id", "r"}, schema.Names()); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}
