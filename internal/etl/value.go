package etl

import "fmt"

// State tells what a Value holds.
type State uint8

const (
	// NotProvided means no value was supplied at all. It is the zero State,
	// so a Field with a zero Default has no default.
	NotProvided State = iota
	// Missing means the slot exists but nothing has been set yet.
	Missing
	// Present means the Value carries a concrete value, which may be nil.
	Present
)

func (s State) String() string {
	switch s {
	case NotProvided:
		return "NOT PROVIDED"
	case Missing:
		return "MISSING"
	case Present:
		return "PRESENT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Value is a tagged option: either one of the markers NotProvided or Missing,
// or a present value.
type Value struct {
	state State
	v     any
}

// Of wraps v as a present Value.
func Of(v any) Value { return Value{state: Present, v: v} }

// MissingValue is the marker for "not set yet".
var MissingValue = Value{state: Missing}

// NoValue is the marker for "not provided".
var NoValue = Value{}

func (v Value) State() State { return v.state }

func (v Value) IsPresent() bool { return v.state == Present }

func (v Value) IsMissing() bool { return v.state == Missing }

func (v Value) IsProvided() bool { return v.state != NotProvided }

// Get returns the wrapped value and whether it is present.
func (v Value) Get() (any, bool) {
	return v.v, v.state == Present
}

func (v Value) String() string {
	if v.state != Present {
		return v.state.String()
	}
	return fmt.Sprint(v.v)
}

// Selector picks the fields a partial update touches.
type Selector struct {
	all   bool
	names []string
}

// All selects every declared field.
var All = Selector{all: true}

// Only selects the named fields.
func Only(names ...string) Selector {
	return Selector{names: append([]string(nil), names...)}
}

func (s Selector) IsAll() bool { return s.all }

// Names resolves the selector against a schema, in schema order for All and
// in the given order otherwise.
func (s Selector) Names(schema *Schema) []string {
	if s.all {
		return schema.Names()
	}
	return append([]string(nil), s.names...)
}
