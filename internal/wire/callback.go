package wire

import "time"

// Callback receives the event stream produced by Decoder as it parses one
// BDOC document. Implementations build whatever in-memory representation
// their caller needs — an ordered slice of fields, an unordered map, a lazy
// tree — without the decoder knowing or caring which. name is "" for the
// document root and the field name otherwise.
type Callback interface {
	ObjectStart(name string)
	ObjectDone()
	ArrayStart(name string)
	ArrayDone()

	GotDouble(name string, v float64)
	GotString(name string, v string)
	GotBinary(name string, v Binary)
	GotUndefined(name string)
	GotObjectID(name string, v ObjectID)
	GotBoolean(name string, v bool)
	GotDate(name string, v time.Time)
	GotNull(name string)
	GotRegex(name string, v Regex)
	GotDBRef(name string, v DBRef)
	GotCode(name string, v string)
	GotSymbol(name string, v string)
	GotCodeWithScope(name string, code string, scope any)
	GotInt32(name string, v int32)
	GotTimestamp(name string, v Timestamp)
	GotInt64(name string, v int64)
	GotMinKey(name string)
	GotMaxKey(name string)

	// MakeChild returns a fresh Callback of the same concrete kind, used to
	// decode a CodeWithScope's nested scope document in isolation.
	MakeChild() Callback

	// Reset clears any in-progress state, readying the callback for reuse.
	Reset()

	// Get returns the value this callback built.
	Get() any
}

// frame tracks one nesting level (object or array) while DocumentBuilder
// accumulates fields, plus the field name it will be attached under in its
// parent frame once complete.
type frame struct {
	name    string
	isArray bool
	fields  map[string]any
	order   []string
}

func newFrame(name string, isArray bool) *frame {
	return &frame{name: name, isArray: isArray, fields: make(map[string]any)}
}

func (f *frame) set(name string, v any) {
	if _, exists := f.fields[name]; !exists {
		f.order = append(f.order, name)
	}
	f.fields[name] = v
}

func (f *frame) build() any {
	if f.isArray {
		out := make([]any, len(f.order))
		for i, name := range f.order {
			out[i] = f.fields[name]
		}
		return out
	}
	out := make(map[string]any, len(f.fields))
	for k, v := range f.fields {
		out[k] = v
	}
	return out
}

// DocumentBuilder is the reference Callback implementation: it eagerly
// builds an ordinary Go value tree (map[string]any for objects, []any for
// arrays) out of the decode event stream. Most callers use this directly;
// specialized domain objects implement Callback themselves.
type DocumentBuilder struct {
	stack  []*frame
	result any
}

// NewDocumentBuilder returns a ready-to-use DocumentBuilder.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{}
}

func (d *DocumentBuilder) top() *frame {
	return d.stack[len(d.stack)-1]
}

func (d *DocumentBuilder) ObjectStart(name string) {
	d.stack = append(d.stack, newFrame(name, false))
}

func (d *DocumentBuilder) ObjectDone() {
	d.popAndAttach()
}

func (d *DocumentBuilder) ArrayStart(name string) {
	d.stack = append(d.stack, newFrame(name, true))
}

func (d *DocumentBuilder) ArrayDone() {
	d.popAndAttach()
}

// popAndAttach pops the top frame, builds its value, and either attaches it
// to the new top frame under the popped frame's name (nested) or stores it
// as the final result (root).
func (d *DocumentBuilder) popAndAttach() {
	top := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	v := top.build()
	if len(d.stack) == 0 {
		d.result = v
		return
	}
	d.top().set(top.name, v)
}

func (d *DocumentBuilder) GotDouble(name string, v float64)    { d.top().set(name, v) }
func (d *DocumentBuilder) GotString(name string, v string)     { d.top().set(name, v) }
func (d *DocumentBuilder) GotBinary(name string, v Binary)     { d.top().set(name, v) }
func (d *DocumentBuilder) GotUndefined(name string)            { d.top().set(name, nil) }
func (d *DocumentBuilder) GotObjectID(name string, v ObjectID) { d.top().set(name, v) }
func (d *DocumentBuilder) GotBoolean(name string, v bool)      { d.top().set(name, v) }
func (d *DocumentBuilder) GotDate(name string, v time.Time)    { d.top().set(name, v) }
func (d *DocumentBuilder) GotNull(name string)                 { d.top().set(name, nil) }
func (d *DocumentBuilder) GotRegex(name string, v Regex)       { d.top().set(name, v) }
func (d *DocumentBuilder) GotDBRef(name string, v DBRef)       { d.top().set(name, v) }
func (d *DocumentBuilder) GotCode(name string, v string)       { d.top().set(name, v) }
func (d *DocumentBuilder) GotSymbol(name string, v string)     { d.top().set(name, v) }
func (d *DocumentBuilder) GotCodeWithScope(name string, code string, scope any) {
	d.top().set(name, CodeWithScope{Code: code, Scope: scope})
}
func (d *DocumentBuilder) GotInt32(name string, v int32)         { d.top().set(name, v) }
func (d *DocumentBuilder) GotTimestamp(name string, v Timestamp) { d.top().set(name, v) }
func (d *DocumentBuilder) GotInt64(name string, v int64)         { d.top().set(name, v) }
func (d *DocumentBuilder) GotMinKey(name string)                 { d.top().set(name, MinKey{}) }
func (d *DocumentBuilder) GotMaxKey(name string)                 { d.top().set(name, MaxKey{}) }

func (d *DocumentBuilder) MakeChild() Callback {
	return NewDocumentBuilder()
}

func (d *DocumentBuilder) Reset() {
	d.stack = nil
	d.result = nil
}

func (d *DocumentBuilder) Get() any {
	return d.result
}

// CodeWithScope is the built value for a CodeWithScope element.
type CodeWithScope struct {
	Code  string
	Scope any
}

// MinKey and MaxKey are sentinel built values for the corresponding BDOC
// element types, which carry no payload.
type MinKey struct{}
type MaxKey struct{}
