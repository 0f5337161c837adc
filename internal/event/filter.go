package event

import "strings"

// Filter decides whether an event dataType is eligible for dispatch at all.
// It is built once at startup from the configured suppression list and is
// read-only afterwards.
type Filter struct {
	disabled map[Kind]struct{}
}

// NewFilter builds a filter from a list of suppressed dataTypes. Entries are
// trimmed and compared case-insensitively.
func NewFilter(disabled []string) *Filter {
	set := make(map[Kind]struct{}, len(disabled))
	for _, d := range disabled {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[Kind(d)] = struct{}{}
		}
	}
	return &Filter{disabled: set}
}

// Enabled reports whether events of the given kind may be dispatched.
func (f *Filter) Enabled(kind Kind) bool {
	_, suppressed := f.disabled[kind]
	return !suppressed
}
