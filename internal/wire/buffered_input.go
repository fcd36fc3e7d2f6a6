package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// MaxReadahead bounds how far ensureContiguous will read past what the
// caller actually asked for, and also bounds the minimum buffer growth
// increment: one small constant rather than over-allocating.
const MaxReadahead = 512

// initialBufferSize is BufferedInput's starting capacity.
const initialBufferSize = 1024

// BufferedInput is a windowed read-ahead reader over a byte source,
// specialized for decoding one BDOC document: its read-ahead is capped so
// it never reads past the document's declared outer length.
//
// Not safe for concurrent use.
type BufferedInput struct {
	source io.Reader

	buffer []byte
	o      int // start of valid, unconsumed data
	l      int // end of valid data
	read   int // bytes drained from the source prior to the current buffer window

	length   int // declared outer length of the document being parsed; -1 until known
	docStart int // absolute offset at which the current outer document began

	asciiCache [128]string
}

// NewBufferedInput wraps source for BDOC decoding.
func NewBufferedInput(source io.Reader) *BufferedInput {
	b := &BufferedInput{
		source: source,
		buffer: make([]byte, initialBufferSize),
		length: -1,
	}
	for i := 0x20; i < 0x7F; i++ {
		b.asciiCache[i] = string([]byte{byte(i)})
	}
	return b
}

// BeginDocument reads the 4-byte little-endian outer length that prefixes
// every BDOC document, records it as the read-ahead ceiling for the
// remainder of the parse, and returns it. Only outer documents move the
// ceiling; nested frames go through BeginNested.
func (b *BufferedInput) BeginDocument() (int32, error) {
	n, err := b.readDocLength()
	if err != nil {
		return 0, err
	}
	b.length = int(n)
	b.docStart = b.read + b.o - 4
	return n, nil
}

// BeginNested reads and validates a nested document's length prefix. The
// outer ceiling set by BeginDocument stays in place: the outermost frame
// already contains every nested one, so capping read-ahead against it is
// both sufficient and necessary.
func (b *BufferedInput) BeginNested() (int32, error) {
	return b.readDocLength()
}

func (b *BufferedInput) readDocLength() (int32, error) {
	n, err := b.ReadI32()
	if err != nil {
		return 0, err
	}
	if n < 5 {
		return 0, newBadLengthError(fmt.Sprintf("document length %d is smaller than the minimum 5 (empty document)", n))
	}
	return n, nil
}

// BytesRead returns the total number of bytes consumed since construction.
func (b *BufferedInput) BytesRead() int {
	return b.read + b.o
}

// ensureContiguous guarantees that buffer[o:o+n] holds valid, unconsumed
// bytes, compacting and growing the buffer and refilling from the source as
// needed. Read-ahead beyond n is capped by MaxReadahead and by the
// remaining bytes in the current document (once BeginDocument has run).
func (b *BufferedInput) ensureContiguous(n int) error {
	if b.l-b.o >= n {
		return nil
	}

	if b.o > 0 {
		copy(b.buffer, b.buffer[b.o:b.l])
		b.l -= b.o
		b.read += b.o
		b.o = 0
	}

	if cap(b.buffer) < n+MaxReadahead {
		nb := make([]byte, n+MaxReadahead)
		copy(nb, b.buffer[:b.l])
		b.buffer = nb
	} else if len(b.buffer) < n+MaxReadahead {
		b.buffer = b.buffer[:cap(b.buffer)]
	}

	readahead := MaxReadahead
	if b.length >= 0 {
		remaining := b.docStart + b.length - b.read - b.l
		if remaining < 0 {
			remaining = 0
		}
		if readahead > remaining {
			readahead = remaining
		}
	}

	target := b.l + readahead
	if target > len(b.buffer) {
		target = len(b.buffer)
	}
	if target < n {
		target = n
	}

	for b.l < target {
		nr, err := b.source.Read(b.buffer[b.l:target])
		if nr > 0 {
			b.l += nr
		}
		if err != nil {
			if err == io.EOF {
				if b.l < n {
					return newEOFError(fmt.Sprintf("need %d bytes, only %d available", n, b.l))
				}
				return nil
			}
			return err
		}
	}
	return nil
}

// ReadByte returns the next byte and advances the cursor.
func (b *BufferedInput) ReadByte() (byte, error) {
	if err := b.ensureContiguous(1); err != nil {
		return 0, err
	}
	v := b.buffer[b.o]
	b.o++
	return v, nil
}

// ReadI32 reads a little-endian signed 32-bit integer.
func (b *BufferedInput) ReadI32() (int32, error) {
	if err := b.ensureContiguous(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(b.buffer[b.o : b.o+4]))
	b.o += 4
	return v, nil
}

// ReadI64 reads a little-endian signed 64-bit integer.
func (b *BufferedInput) ReadI64() (int64, error) {
	if err := b.ensureContiguous(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(b.buffer[b.o : b.o+8]))
	b.o += 8
	return v, nil
}

// ReadF64 reads a little-endian IEEE-754 double.
func (b *BufferedInput) ReadF64() (float64, error) {
	if err := b.ensureContiguous(8); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(b.buffer[b.o : b.o+8])
	b.o += 8
	return math.Float64frombits(bits), nil
}

// Fill drains the internal buffer into dst first, then reads any remainder
// directly from the source, bypassing the buffer. Used for large opaque
// payloads (general Binary) where double-buffering would waste a copy.
func (b *BufferedInput) Fill(dst []byte) error {
	n := len(dst)
	if n == 0 {
		return nil
	}
	avail := b.l - b.o
	if avail > n {
		avail = n
	}
	if avail > 0 {
		copy(dst[:avail], b.buffer[b.o:b.o+avail])
		b.o += avail
	}
	remaining := dst[avail:]
	if len(remaining) == 0 {
		return nil
	}
	got, err := io.ReadFull(b.source, remaining)
	b.read += got
	if err != nil {
		return newEOFError(fmt.Sprintf("fill: needed %d more bytes: %v", len(remaining), err))
	}
	return nil
}

// ReadCString reads bytes up to and including a terminating NUL byte and
// returns the string without the NUL. The empty string and single printable
// ASCII character cases are fast paths: the latter returns a cached
// singleton string so repeated field names never re-allocate.
func (b *BufferedInput) ReadCString() (string, error) {
	if err := b.ensureContiguous(1); err != nil {
		return "", err
	}
	c0 := b.buffer[b.o]
	if c0 == 0 {
		b.o++
		return "", nil
	}

	if err := b.ensureContiguous(2); err == nil && b.buffer[b.o+1] == 0 {
		b.o += 2
		if c0 >= 0x20 && c0 < 0x7F {
			return b.asciiCache[c0], nil
		}
		return string(c0), nil
	}

	n := 1
	for {
		if err := b.ensureContiguous(n + 1); err != nil {
			return "", err
		}
		if b.buffer[b.o+n] == 0 {
			s := string(b.buffer[b.o : b.o+n])
			b.o += n + 1
			return s, nil
		}
		n++
	}
}

// ReadUTF8Len reads a 4-byte length-prefixed, NUL-terminated UTF-8 string:
// the classic "String" payload used by Code, Symbol, and String elements.
func (b *BufferedInput) ReadUTF8Len() (string, error) {
	n, err := b.ReadI32()
	if err != nil {
		return "", err
	}
	if n <= 0 || n > maxUTF8Length {
		return "", newBadLengthError(fmt.Sprintf("utf8 length %d out of range [1, %d]", n, maxUTF8Length))
	}
	if err := b.ensureContiguous(int(n)); err != nil {
		return "", err
	}
	data := b.buffer[b.o : b.o+int(n)-1]
	if !utf8.Valid(data) {
		return "", newBadLengthError("string payload is not valid utf-8")
	}
	s := string(data)
	b.o += int(n)
	return s, nil
}
