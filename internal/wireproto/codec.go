package wireproto

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Reader decodes the typed fields of the wire protocol off an io.Reader.
// All integers are big-endian (network byte order); strings and byte
// blobs are u32-length-prefixed unless the field is a bind name, which is
// u8-length-prefixed
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (d *Reader) fill(buf []byte) error {
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return &ProtocolError{Kind: "short-read", Detail: err.Error()}
		}
		return err
	}
	return nil
}

func (d *Reader) ReadU8() (uint8, error) {
	var buf [1]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Reader) ReadU16() (uint16, error) {
	var buf [2]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Reader) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *Reader) ReadU64() (uint64, error) {
	var buf [8]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (d *Reader) ReadI64() (int64, error) {
	v, err := d.ReadU64()
	return int64(v), err
}

func (d *Reader) ReadOpcode() (Opcode, error) {
	v, err := d.ReadU16()
	return Opcode(v), err
}

// ReadLBytes reads a u32-length-prefixed byte blob, rejecting lengths above
// max before allocating.
func (d *Reader) ReadLBytes(max uint32) ([]byte, error) {
	n, err := d.ReadU32()
	if err != nil {
		return nil, err
	}
	if max > 0 && n > max {
		return nil, &ProtocolError{Kind: "oversize-field", Detail: "length exceeds configured maximum"}
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := d.fill(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadLString is ReadLBytes with a string conversion.
func (d *Reader) ReadLString(max uint32) (string, error) {
	b, err := d.ReadLBytes(max)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBindName reads a u8-length-prefixed name
// bind_block layout ({u8 name_len, bytes name, ...}).
func (d *Reader) ReadBindName(max uint8) (string, error) {
	n, err := d.ReadU8()
	if err != nil {
		return "", err
	}
	if max > 0 && n > max {
		return "", &ProtocolError{Kind: "oversize-field", Detail: "bind name exceeds configured maximum"}
	}
	buf := make([]byte, n)
	if n > 0 {
		if err := d.fill(buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func (d *Reader) ReadBindTag() (BindTag, error) {
	v, err := d.ReadU8()
	return BindTag(v), err
}

func (d *Reader) ReadDataTag() (DataTag, error) {
	v, err := d.ReadU8()
	return DataTag(v), err
}

// Writer encodes wire-protocol fields onto a buffered writer, flushed
// explicitly at response boundaries rather than per field, for throughput.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (e *Writer) WriteU8(v uint8) error {
	return e.w.WriteByte(v)
}

func (e *Writer) WriteU16(v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Writer) WriteU32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Writer) WriteU64(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Writer) WriteI64(v int64) error {
	return e.WriteU64(uint64(v))
}

func (e *Writer) WriteOpcode(op Opcode) error {
	return e.WriteU16(uint16(op))
}

func (e *Writer) WriteLBytes(b []byte) error {
	if err := e.WriteU32(uint32(len(b))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Writer) WriteLString(s string) error {
	return e.WriteLBytes([]byte(s))
}

func (e *Writer) WriteBindName(s string) error {
	if err := e.WriteU8(uint8(len(s))); err != nil {
		return err
	}
	_, err := e.w.Write([]byte(s))
	return err
}

// Flush pushes the buffered response to the underlying socket. Must be
// called at the end of every logical response.
func (e *Writer) Flush() error {
	return e.w.Flush()
}
