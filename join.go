package conflux

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CoGroup joins the records of several inputs on one key list per input.
// Records are grouped by key value; each group yields the cross product of
// its per-input records, input 0 varying slowest, and each output tuple is
// the concatenation of one record per input. Groups are emitted in order of
// first appearance scanning the inputs in order.
//
// An input the policy does not require contributes a single all-nil record
// to a group it is missing from; a group missing a required input yields
// nothing. Key values are compared by their msgpack encoding, so integers of
// different Go widths match but an integer never matches a float.
func CoGroup(schemas []Schema, inputs [][]Tuple, keys [][]string, policy JoinPolicy) ([]Tuple, error) {
	if len(schemas) != len(inputs) || len(keys) != len(inputs) {
		return nil, fmt.Errorf("cogroup: %d schemas and %d key lists for %d inputs", len(schemas), len(keys), len(inputs))
	}

	keyIdx := make([][]int, len(inputs))
	for i, names := range keys {
		keyIdx[i] = make([]int, len(names))
		for k, name := range names {
			idx, ok := schemas[i].Index(name)
			if !ok {
				return nil, &UnknownFieldError{Field: name, Available: schemas[i].Names(), Reason: fmt.Sprintf("join key of input %d", i)}
			}
			keyIdx[i][k] = idx
		}
	}

	enc := newKeyEncoder()
	var order []string
	groups := make(map[string][][]Tuple)
	for i, rows := range inputs {
		width := schemas[i].Len()
		for _, row := range rows {
			if len(row) != width {
				return nil, fmt.Errorf("cogroup: input %d record has %d values, schema %s has %d", i, len(row), schemas[i], width)
			}
			key, err := enc.encode(row, keyIdx[i])
			if err != nil {
				return nil, fmt.Errorf("cogroup: input %d: %w", i, err)
			}
			g, ok := groups[key]
			if !ok {
				g = make([][]Tuple, len(inputs))
				order = append(order, key)
			}
			g[i] = append(g[i], row)
			groups[key] = g
		}
	}

	required := policy.Required(len(inputs))
	var out []Tuple
	for _, key := range order {
		g := groups[key]
		skip := false
		for i := range g {
			if len(g[i]) > 0 {
				continue
			}
			if required[i] {
				skip = true
				break
			}
			g[i] = []Tuple{make(Tuple, schemas[i].Len())}
		}
		if skip {
			continue
		}
		out = cross(out, g)
	}
	return out, nil
}

// cross appends the cross product of the per-input rows of one group.
func cross(out []Tuple, group [][]Tuple) []Tuple {
	width := 0
	for _, rows := range group {
		width += len(rows[0])
	}
	pos := make([]int, len(group))
	for {
		t := make(Tuple, 0, width)
		for i, rows := range group {
			t = append(t, rows[pos[i]]...)
		}
		out = append(out, t)

		// Advance the last input fastest.
		i := len(group) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < len(group[i]) {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

type keyEncoder struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	key []any
}

func newKeyEncoder() *keyEncoder {
	e := &keyEncoder{}
	e.enc = msgpack.NewEncoder(&e.buf)
	e.enc.UseCompactInts(true)
	return e
}

func (e *keyEncoder) encode(row Tuple, idx []int) (string, error) {
	e.buf.Reset()
	e.key = e.key[:0]
	for _, i := range idx {
		e.key = append(e.key, row[i])
	}
	if err := e.enc.Encode(e.key); err != nil {
		return "", err
	}
	return e.buf.String(), nil
}
