package jmapcore

import "strings"

// Kind tags the expected JSON shape of an argument property for Parser.ReadProp.
type Kind byte

const (
	KindString Kind = 's'
	KindInt    Kind = 'i'
	KindBool   Kind = 'b'
	KindObject Kind = 'o'
	KindArray  Kind = 'a'
)

// Parser is an explicit, accumulating validator over a method call's
// arguments object (spec §4.7, §9 "explicit accumulating parser"). It never
// panics or unwinds on invalid input: callers keep validating every
// property, then check Errors() once, so a single invalidArguments response
// can name every offending path instead of just the first one found.
type Parser struct {
	path    []string
	invalid []string
}

// NewParser returns an empty Parser positioned at the argument object root.
func NewParser() *Parser { return &Parser{} }

func (p *Parser) pointer(name string) string {
	segments := append(append([]string{}, p.path...), name)
	return "/" + strings.Join(segments, "/")
}

// Invalid records name (resolved against the current nesting) as an invalid path.
func (p *Parser) Invalid(name string) {
	p.invalid = append(p.invalid, p.pointer(name))
}

// Descend runs fn with name pushed onto the current path, for validating a
// nested object property.
func (p *Parser) Descend(name string, fn func()) {
	p.path = append(p.path, name)
	fn()
	p.path = p.path[:len(p.path)-1]
}

// ReadProp validates the presence and shape of root[name]. If present and of
// the expected kind, *out is set and true is returned. If absent and
// mandatory, or present with the wrong shape, the path is recorded invalid
// and false is returned.
func (p *Parser) ReadProp(root map[string]any, name string, mandatory bool, kind Kind, out *any) bool {
	value, present := root[name]
	if !present {
		if mandatory {
			p.Invalid(name)
		}
		return false
	}
	if !matchesKind(value, kind) {
		p.Invalid(name)
		return false
	}
	*out = value
	return true
}

func matchesKind(value any, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInt:
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindObject:
		_, ok := value.(map[string]any)
		return ok
	case KindArray:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}

// Errors returns the accumulated invalidArguments method error, or nil if
// every property parsed was shaped correctly.
func (p *Parser) Errors() *MethodError {
	if len(p.invalid) == 0 {
		return nil
	}
	return InvalidArguments(p.invalid...)
}
