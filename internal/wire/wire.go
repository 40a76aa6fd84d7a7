// Package wire implements the primitive byte encoding shared by every
// persisted metadata record.
//
// The format is deliberately simple and stable across versions:
//   - integers are fixed 8-byte big-endian signed values
//   - strings are an 8-byte length followed by the raw UTF-8 bytes
//   - collections are an 8-byte count followed by the items
//   - timestamps are integers, in seconds or milliseconds depending on the
//     record type
//
// Reader never panics. Any read past the end of the buffer returns a
// metaerr.CodeSubdataRange error.
package wire

import (
	"encoding/binary"
	"time"

	"github.com/roach88/metavault/internal/metaerr"
)

// IntSize is the encoded width of every integer, length and count.
const IntSize = 8

// Writer accumulates an encoding. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity preallocated.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Int64 appends v as 8 bytes big-endian.
func (w *Writer) Int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

// Int appends v as an int64.
func (w *Writer) Int(v int) {
	w.Int64(int64(v))
}

// Bool appends 1 for true, 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.Int64(1)
		return
	}
	w.Int64(0)
}

// String appends a length-prefixed string. The bytes are written as given.
func (w *Writer) String(s string) {
	w.Int64(int64(len(s)))
	w.buf = append(w.buf, s...)
}

// Count appends a collection size.
func (w *Writer) Count(n int) {
	w.Int64(int64(n))
}

// Seconds appends t as Unix seconds.
func (w *Writer) Seconds(t time.Time) {
	w.Int64(t.Unix())
}

// Millis appends t as Unix milliseconds.
func (w *Writer) Millis(t time.Time) {
	w.Int64(t.UnixMilli())
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reader decodes an encoding produced by Writer.
type Reader struct {
	data []byte
	off  int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Done reports whether every byte has been consumed.
func (r *Reader) Done() bool {
	return r.Remaining() == 0
}

// Next consumes and returns the next n bytes.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, metaerr.New(metaerr.CodeSubdataRange, "wire read",
			"need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Rest consumes and returns every unread byte.
func (r *Reader) Rest() []byte {
	b := r.data[r.off:]
	r.off = len(r.data)
	return b
}

// Int64 reads an 8-byte big-endian integer.
func (r *Reader) Int64() (int64, error) {
	b, err := r.Next(IntSize)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Int reads an int64 and returns it as int.
func (r *Reader) Int() (int, error) {
	v, err := r.Int64()
	return int(v), err
}

// Bool reads an integer flag; any non-zero value is true.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Int64()
	return v != 0, err
}

// Count reads a collection size. Every item occupies at least IntSize bytes,
// so a count that the remaining buffer cannot hold is rejected up front.
func (r *Reader) Count() (int, error) {
	start := r.off
	n, err := r.Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(r.Remaining()/IntSize) {
		return 0, metaerr.New(metaerr.CodeSubdataRange, "wire read",
			"count %d at offset %d exceeds remaining %d bytes", n, start, r.Remaining())
	}
	return int(n), nil
}

// String reads a length-prefixed string. A length of zero or less yields
// ok=false with no error; only the prefix is consumed. Callers treat that as
// an absent value and drop the enclosing record.
func (r *Reader) String() (s string, ok bool, err error) {
	n, err := r.Int64()
	if err != nil {
		return "", false, err
	}
	if n <= 0 {
		return "", false, nil
	}
	if n > int64(r.Remaining()) {
		return "", false, metaerr.New(metaerr.CodeSubdataRange, "wire read",
			"string of %d bytes at offset %d, have %d", n, r.off, r.Remaining())
	}
	b, err := r.Next(int(n))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// Seconds reads Unix seconds as a UTC time.
func (r *Reader) Seconds() (time.Time, error) {
	v, err := r.Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

// Millis reads Unix milliseconds as a UTC time.
func (r *Reader) Millis() (time.Time, error) {
	v, err := r.Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(v).UTC(), nil
}
