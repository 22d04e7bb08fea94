package vesting

// Stream identifies which distribution a schedule belongs to: the default stream or a
// named alternate one (e.g. a partner token distributed through its own contract).
type Stream struct {
	tag string
}

// DefaultStream is the network's primary distribution.
var DefaultStream = Stream{}

// NamedStream returns the alternate stream with the given tag. An empty tag is the
// default stream.
func NamedStream(tag string) Stream {
	return Stream{tag: tag}
}

func (s Stream) IsDefault() bool { return s.tag == "" }

// Tag is empty for the default stream.
func (s Stream) Tag() string { return s.tag }

func (s Stream) String() string {
	if s.IsDefault() {
		return "default"
	}
	return s.tag
}
