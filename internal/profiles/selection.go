package profiles

import (
	"strings"
)

// Selection is the "chosen profile" as handed over by a client. It is one of
// ByName, ByMapping or ByNamed and is normalized with Resolve as soon as a
// session starts; nothing past the session boundary sees it.
type Selection interface {
	selection()
}

// ByName is a plain identifier.
type ByName string

// ByMapping is a decoded object; its "name" entry carries the identifier.
type ByMapping map[string]any

// Named is anything exposing a profile name.
type Named interface {
	Name() string
}

// ByNamed wraps an object exposing Name().
type ByNamed struct {
	Value Named
}

func (ByName) selection()    {}
func (ByMapping) selection() {}
func (ByNamed) selection()   {}

// Resolve maps a selection to a known profile name. Nil input, an unknown
// name, a wrongly typed entry or a panicking Name() all yield Default.
func Resolve(sel Selection) (name string) {
	defer func() {
		if recover() != nil {
			name = Default
		}
	}()

	var candidate string
	switch v := sel.(type) {
	case ByName:
		candidate = string(v)
	case ByMapping:
		raw, ok := v["name"]
		if !ok {
			return Default
		}
		s, ok := raw.(string)
		if !ok {
			return Default
		}
		candidate = s
	case ByNamed:
		if v.Value == nil {
			return Default
		}
		candidate = v.Value.Name()
	default:
		return Default
	}

	candidate = strings.TrimSpace(candidate)
	if !Known(candidate) {
		return Default
	}
	return candidate
}
