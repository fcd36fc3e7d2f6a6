package wire

// ElementType is a BDOC element type tag, the single byte preceding every
// (name, payload) pair inside a document.
type ElementType byte

// BDOC element types, per the wire format table.
const (
	TypeEOO           ElementType = 0x00
	TypeDouble        ElementType = 0x01
	TypeString        ElementType = 0x02
	TypeObject        ElementType = 0x03
	TypeArray         ElementType = 0x04
	TypeBinary        ElementType = 0x05
	TypeUndefined     ElementType = 0x06
	TypeObjectID      ElementType = 0x07
	TypeBoolean       ElementType = 0x08
	TypeDate          ElementType = 0x09
	TypeNull          ElementType = 0x0A
	TypeRegex         ElementType = 0x0B
	TypeDBRef         ElementType = 0x0C
	TypeCode          ElementType = 0x0D
	TypeSymbol        ElementType = 0x0E
	TypeCodeWithScope ElementType = 0x0F
	TypeInt32         ElementType = 0x10
	TypeTimestamp     ElementType = 0x11
	TypeInt64         ElementType = 0x12
	TypeMaxKey        ElementType = 0x7F
	TypeMinKey        ElementType = 0xFF
)

// BinarySubtype identifies the interpretation of a Binary element's payload.
type BinarySubtype byte

const (
	BinaryGeneric BinarySubtype = 0x00
	BinaryLegacy  BinarySubtype = 0x02
	BinaryUUID    BinarySubtype = 0x03
)

// maxUTF8Length is the largest accepted UTF8-with-length payload (3 MiB).
const maxUTF8Length = 3 * 1024 * 1024

// ObjectID is a 12-byte identifier, kept as the raw bytes in wire order.
type ObjectID [12]byte

// Regex holds a BDOC regular expression element's pattern and flags.
type Regex struct {
	Pattern string
	Flags   string
}

// DBRef holds a BDOC database reference element.
type DBRef struct {
	Namespace string
	ID        ObjectID
}

// Timestamp is a BDOC internal replication timestamp: an increment ordinal
// paired with a seconds-since-epoch value.
type Timestamp struct {
	Increment int32
	Seconds   int32
}

// Binary holds a decoded Binary element.
type Binary struct {
	Subtype BinarySubtype
	Data    []byte
}
