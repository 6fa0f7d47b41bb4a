package conflux

// Tap is an opaque handle to external storage. The core only needs an
// identifier; reading and writing are left to the executor, which may
// require richer interfaces of the taps it is given.
type Tap interface {
	ID() string
}

// SourceBinding attaches a root stream to the tap that feeds it.
type SourceBinding struct {
	Stream Stream
	Tap    Tap
}

// SinkBinding attaches a terminal stream to the tap that receives it.
type SinkBinding struct {
	Stream Stream
	Tap    Tap
}

// BindSource pairs a root stream with its source tap.
func BindSource(s Stream, tap Tap) SourceBinding {
	return SourceBinding{Stream: s, Tap: tap}
}

// BindSink pairs a terminal stream with its sink tap.
func BindSink(s Stream, tap Tap) SinkBinding {
	return SinkBinding{Stream: s, Tap: tap}
}

// namedTap is a Tap known only by name.
type namedTap string

func (t namedTap) ID() string { return string(t) }

// TapName returns a Tap carrying only an identifier. Useful for describing
// or validating a flow before real storage is available.
func TapName(id string) Tap { return namedTap(id) }
