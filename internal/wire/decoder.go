package wire

import (
	"io"
	"time"
)

// Decoder parses a stream of BDOC documents from an underlying byte source,
// emitting events to a caller-supplied Callback as it goes rather than
// building its own tree. One Decoder may parse many documents in sequence
// (e.g. a stream of wire messages) but must not be used from two goroutines
// concurrently, and must not be re-entered from within a callback method.
type Decoder struct {
	input    *BufferedInput
	decoding bool
}

// NewDecoder wraps source for decoding.
func NewDecoder(source io.Reader) *Decoder {
	return &Decoder{input: NewBufferedInput(source)}
}

// Decode parses exactly one BDOC document, driving callback through the
// ObjectStart/GotX/.../ObjectDone event sequence, and returns the number of
// bytes the document declared itself to be.
//
// It is an error to call Decode again from within a callback method invoked
// by an in-progress Decode — Decoder guards against this with a reentrancy
// flag rather than silently corrupting its internal buffer state.
func (d *Decoder) Decode(callback Callback) (int32, error) {
	if d.decoding {
		return 0, &DecodeError{Code: ErrReentrant, Message: "Decode called reentrantly on the same Decoder"}
	}
	d.decoding = true
	defer func() { d.decoding = false }()

	start := d.input.BytesRead()
	declared, err := d.input.BeginDocument()
	if err != nil {
		return 0, err
	}

	callback.ObjectStart("")
	if err := d.decodeElements(callback); err != nil {
		return 0, err
	}
	callback.ObjectDone()

	consumed := int32(d.input.BytesRead() - start)
	if consumed != declared {
		return 0, newLengthMismatchError(declared, consumed)
	}
	return declared, nil
}

// decodeElements reads (type, name, payload) triples until it hits the
// terminating EOO byte.
func (d *Decoder) decodeElements(callback Callback) error {
	for {
		tByte, err := d.input.ReadByte()
		if err != nil {
			return err
		}
		t := ElementType(tByte)
		if t == TypeEOO {
			return nil
		}
		name, err := d.input.ReadCString()
		if err != nil {
			return err
		}
		if err := d.decodeElement(t, name, callback); err != nil {
			return err
		}
	}
}

// decodeElement reads one element's payload and dispatches the
// corresponding Got*/ObjectStart/ArrayStart event to callback.
func (d *Decoder) decodeElement(t ElementType, name string, callback Callback) error {
	switch t {
	case TypeDouble:
		v, err := d.input.ReadF64()
		if err != nil {
			return err
		}
		callback.GotDouble(name, v)

	case TypeString:
		v, err := d.input.ReadUTF8Len()
		if err != nil {
			return err
		}
		callback.GotString(name, v)

	case TypeObject:
		start := d.input.BytesRead()
		declared, err := d.input.BeginNested()
		if err != nil {
			return err
		}
		callback.ObjectStart(name)
		if err := d.decodeElements(callback); err != nil {
			return err
		}
		callback.ObjectDone()
		if consumed := int32(d.input.BytesRead() - start); consumed != declared {
			return newLengthMismatchError(declared, consumed)
		}

	case TypeArray:
		start := d.input.BytesRead()
		declared, err := d.input.BeginNested()
		if err != nil {
			return err
		}
		callback.ArrayStart(name)
		if err := d.decodeElements(callback); err != nil {
			return err
		}
		callback.ArrayDone()
		if consumed := int32(d.input.BytesRead() - start); consumed != declared {
			return newLengthMismatchError(declared, consumed)
		}

	case TypeBinary:
		v, err := d.decodeBinary()
		if err != nil {
			return err
		}
		callback.GotBinary(name, v)

	case TypeUndefined:
		callback.GotUndefined(name)

	case TypeObjectID:
		var oid ObjectID
		if err := d.input.Fill(oid[:]); err != nil {
			return err
		}
		callback.GotObjectID(name, oid)

	case TypeBoolean:
		b, err := d.input.ReadByte()
		if err != nil {
			return err
		}
		callback.GotBoolean(name, b != 0)

	case TypeDate:
		ms, err := d.input.ReadI64()
		if err != nil {
			return err
		}
		callback.GotDate(name, time.UnixMilli(ms).UTC())

	case TypeNull:
		callback.GotNull(name)

	case TypeRegex:
		pattern, err := d.input.ReadCString()
		if err != nil {
			return err
		}
		flags, err := d.input.ReadCString()
		if err != nil {
			return err
		}
		callback.GotRegex(name, Regex{Pattern: pattern, Flags: flags})

	case TypeDBRef:
		ns, err := d.input.ReadUTF8Len()
		if err != nil {
			return err
		}
		var oid ObjectID
		if err := d.input.Fill(oid[:]); err != nil {
			return err
		}
		callback.GotDBRef(name, DBRef{Namespace: ns, ID: oid})

	case TypeCode:
		v, err := d.input.ReadUTF8Len()
		if err != nil {
			return err
		}
		callback.GotCode(name, v)

	case TypeSymbol:
		v, err := d.input.ReadUTF8Len()
		if err != nil {
			return err
		}
		callback.GotSymbol(name, v)

	case TypeCodeWithScope:
		if err := d.decodeCodeWithScope(name, callback); err != nil {
			return err
		}

	case TypeInt32:
		v, err := d.input.ReadI32()
		if err != nil {
			return err
		}
		callback.GotInt32(name, v)

	case TypeTimestamp:
		inc, err := d.input.ReadI32()
		if err != nil {
			return err
		}
		sec, err := d.input.ReadI32()
		if err != nil {
			return err
		}
		callback.GotTimestamp(name, Timestamp{Increment: inc, Seconds: sec})

	case TypeInt64:
		v, err := d.input.ReadI64()
		if err != nil {
			return err
		}
		callback.GotInt64(name, v)

	case TypeMinKey:
		callback.GotMinKey(name)

	case TypeMaxKey:
		callback.GotMaxKey(name)

	default:
		return newUnsupportedTypeError(t, name)
	}
	return nil
}

// decodeBinary reads a Binary element and enforces the subtype-specific
// length invariants: legacy binary's declared length must equal its inner
// length plus 4, and UUID binary must be exactly 16 bytes.
func (d *Decoder) decodeBinary() (Binary, error) {
	n, err := d.input.ReadI32()
	if err != nil {
		return Binary{}, err
	}
	if n < 0 {
		return Binary{}, newBadLengthError("negative binary length")
	}
	subtypeByte, err := d.input.ReadByte()
	if err != nil {
		return Binary{}, err
	}
	subtype := BinarySubtype(subtypeByte)

	if subtype == BinaryLegacy {
		inner, err := d.input.ReadI32()
		if err != nil {
			return Binary{}, err
		}
		if inner+4 != n {
			return Binary{}, newBadBinarySubtypeError("legacy binary inner length + 4 does not match declared length")
		}
		data := make([]byte, inner)
		if err := d.input.Fill(data); err != nil {
			return Binary{}, err
		}
		return Binary{Subtype: subtype, Data: data}, nil
	}

	if subtype == BinaryUUID && n != 16 {
		return Binary{}, newBadBinarySubtypeError("uuid binary must be exactly 16 bytes")
	}

	data := make([]byte, n)
	if err := d.input.Fill(data); err != nil {
		return Binary{}, err
	}
	return Binary{Subtype: subtype, Data: data}, nil
}

// decodeCodeWithScope reads the (totalLength, code string, scope document)
// payload, parsing the scope into a fresh child callback so the parent's
// in-progress frame is untouched by the recursive decode.
func (d *Decoder) decodeCodeWithScope(name string, callback Callback) error {
	if _, err := d.input.ReadI32(); err != nil {
		return err
	}
	code, err := d.input.ReadUTF8Len()
	if err != nil {
		return err
	}

	child := callback.MakeChild()
	scopeStart := d.input.BytesRead()
	scopeDeclared, err := d.input.BeginNested()
	if err != nil {
		return err
	}
	child.ObjectStart("")
	if err := d.decodeElements(child); err != nil {
		return err
	}
	child.ObjectDone()
	if consumed := int32(d.input.BytesRead() - scopeStart); consumed != scopeDeclared {
		return newLengthMismatchError(scopeDeclared, consumed)
	}

	callback.GotCodeWithScope(name, code, child.Get())
	return nil
}
