package conflux

// Definition is the declarative form of a flow, loadable from YAML or JSON.
// Stages name the streams they read; a stage may read a stream declared
// further down the list.
//
//	name: cogroup
//	sources:
//	  - name: president
//	    tap: presidents
//	    fields: [year, president]
//	  - name: party
//	    tap: parties
//	    fields: [year, party]
//	stages:
//	  - name: president-renamed
//	    type: rename
//	    input: president
//	    rename: {year: pre_year}
//	  - name: joined
//	    type: join
//	    inputs: [president-renamed, party]
//	    keys: [[pre_year], [year]]
//	  - name: result
//	    type: retain
//	    input: joined
//	    fields: [president, party]
//	sinks:
//	  - stream: result
//	    tap: output
type Definition struct {
	// Version tracks the definition version for change management
	Version string      `json:"version,omitempty" yaml:"version,omitempty"`
	Name    string      `json:"name,omitempty" yaml:"name,omitempty"`
	Sources []SourceDef `json:"sources" yaml:"sources"`
	Stages  []StageDef  `json:"stages,omitempty" yaml:"stages,omitempty"`
	Sinks   []SinkDef   `json:"sinks" yaml:"sinks"`
	Tails   []string    `json:"tails,omitempty" yaml:"tails,omitempty"`
}

// SourceDef declares a root stream and the tap feeding it.
type SourceDef struct {
	Name   string   `json:"name" yaml:"name"`
	Tap    string   `json:"tap" yaml:"tap"`
	Fields []string `json:"fields" yaml:"fields"`
}

// SinkDef binds a stream to the tap receiving it.
type SinkDef struct {
	Stream string `json:"stream" yaml:"stream"`
	Tap    string `json:"tap" yaml:"tap"`
}

// StageDef declares one stage. Name is also the name of its output stream.
type StageDef struct {
	Name       string            `json:"name" yaml:"name"`
	Type       string            `json:"type" yaml:"type"`
	Input      string            `json:"input,omitempty" yaml:"input,omitempty"`
	Inputs     []string          `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Rename     map[string]string `json:"rename,omitempty" yaml:"rename,omitempty"`
	Fields     []string          `json:"fields,omitempty" yaml:"fields,omitempty"`
	Predicate  string            `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Keys       [][]string        `json:"keys,omitempty" yaml:"keys,omitempty"`
	Policy     string            `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// inputs returns the stream names the stage reads.
func (s StageDef) inputs() []string {
	if s.Input != "" {
		return []string{s.Input}
	}
	return s.Inputs
}
