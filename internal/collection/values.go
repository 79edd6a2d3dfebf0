package collection

// Name is a human readable name observed for an Entity.
type Name struct {
	s string
}

// NewName wraps s.
func NewName(s string) Name {
	return Name{s: s}
}

func (n Name) String() string {
	return n.s
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.s), nil
}

// Label is a free-form tag attached to an Entity.
type Label struct {
	s string
}

// NewLabel wraps s.
func NewLabel(s string) Label {
	return Label{s: s}
}

func (l Label) String() string {
	return l.s
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.s), nil
}

// Names converts plain strings to names, skipping empty ones.
func Names(ss ...string) []Name {
	out := make([]Name, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, NewName(s))
		}
	}
	return out
}

// Labels converts plain strings to labels, skipping empty ones.
func Labels(ss ...string) []Label {
	out := make([]Label, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, NewLabel(s))
		}
	}
	return out
}
