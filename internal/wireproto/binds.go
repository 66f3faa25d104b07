package wireproto

// BindDirection distinguishes an input bind (client supplies a value) from
// an output bind (client declares a type + max size; the daemon returns a
// value after execute). Both need a wire-level way to tell them apart, so
// every bind entry carries one direction byte (recorded in DESIGN.md).
type BindDirection uint8

const (
	BindIn  BindDirection = 0
	BindOut BindDirection = 1
)

// DateValue is the wire representation of a DATE_BIND / DATE_DATA value,
// including microseconds and a timezone string.
type DateValue struct {
	Year, Month, Day          int32
	Hour, Minute, Second      int32
	Microsecond               int32
	TZ                        string
}

// Bind is one client-supplied input bind or client-declared output bind.
type Bind struct {
	Name      string
	Tag       BindTag
	Direction BindDirection

	// Input payloads (one populated depending on Tag).
	StringVal  string
	IntVal     int64
	DoubleVal  float64
	Precision  int32
	Scale      int32
	BlobVal    []byte
	ClobVal    []byte
	DateVal    DateValue
	CursorID   uint16 // CURSOR_BIND: referenced bind-cursor id

	// Output declarations.
	MaxSize uint32
}

// Limits bounds every size the codec enforces while decoding a bind block,
// "Limits enforced per instance".
type Limits struct {
	MaxQuerySize             uint32
	MaxBindCount              uint32
	MaxBindNameLength         uint8
	MaxStringBindValueLength  uint32
	MaxLobBindValueLength     uint32
	MaxErrorLength            uint32
	MaxClientInfoLength       uint32
}

// DefaultLimits returns generous limits suitable for tests and small
// instances; production instances override these from config.
func DefaultLimits() Limits {
	return Limits{
		MaxQuerySize:            1 << 20,
		MaxBindCount:            256,
		MaxBindNameLength:       255,
		MaxStringBindValueLength: 1 << 20,
		MaxLobBindValueLength:    1 << 26,
		MaxErrorLength:           4096,
		MaxClientInfoLength:      512,
	}
}

// ReadBindBlock decodes a bind_block: {u16 count, count * bind, END_BIND_VARS}.
func ReadBindBlock(r *Reader, lim Limits) ([]Bind, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if uint32(count) > lim.MaxBindCount {
		return nil, NewLimitError(ErrMaxBindCount)
	}

	seen := make(map[string]bool, count)
	binds := make([]Bind, 0, count)
	for i := uint16(0); i < count; i++ {
		name, err := r.ReadBindName(lim.MaxBindNameLength)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, NewLimitError(ErrDuplicateBindName)
		}
		seen[name] = true

		tag, err := r.ReadBindTag()
		if err != nil {
			return nil, err
		}

		dirByte, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		dir := BindDirection(dirByte)

		b := Bind{Name: name, Tag: tag, Direction: dir}

		if dir == BindOut {
			maxSize, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			b.MaxSize = maxSize
			binds = append(binds, b)
			continue
		}

		switch tag {
		case NullBind:
			// no payload
		case StringBind:
			s, err := r.ReadLString(lim.MaxStringBindValueLength)
			if err != nil {
				return nil, err
			}
			b.StringVal = s
		case IntegerBind:
			v, err := r.ReadI64()
			if err != nil {
				return nil, err
			}
			b.IntVal = v
		case DoubleBind:
			precision, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			scale, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			bits, err := r.ReadU64()
			if err != nil {
				return nil, err
			}
			b.Precision = int32(precision)
			b.Scale = int32(scale)
			b.DoubleVal = float64FromBits(bits)
		case BlobBind:
			v, err := r.ReadLBytes(lim.MaxLobBindValueLength)
			if err != nil {
				return nil, err
			}
			b.BlobVal = v
		case ClobBind:
			v, err := r.ReadLBytes(lim.MaxLobBindValueLength)
			if err != nil {
				return nil, err
			}
			b.ClobVal = v
		case CursorBind:
			cid, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			b.CursorID = cid
		case DateBind:
			dv, err := readDate(r)
			if err != nil {
				return nil, err
			}
			b.DateVal = dv
		default:
			return nil, &ProtocolError{Kind: "unknown-tag", Detail: "bad bind type tag"}
		}

		binds = append(binds, b)
	}

	end, err := r.ReadBindTag()
	if err != nil {
		return nil, err
	}
	if end != EndBindVars {
		return nil, &ProtocolError{Kind: "unknown-tag", Detail: "missing END_BIND_VARS"}
	}
	return binds, nil
}

// WriteBindBlock encodes binds in the bind_block layout that ReadBindBlock
// decodes.
func WriteBindBlock(w *Writer, binds []Bind) error {
	if err := w.WriteU16(uint16(len(binds))); err != nil {
		return err
	}
	for _, b := range binds {
		if err := w.WriteBindName(b.Name); err != nil {
			return err
		}
		if err := w.WriteU8(uint8(b.Tag)); err != nil {
			return err
		}
		if err := w.WriteU8(uint8(b.Direction)); err != nil {
			return err
		}
		if b.Direction == BindOut {
			if err := w.WriteU32(b.MaxSize); err != nil {
				return err
			}
			continue
		}
		switch b.Tag {
		case NullBind:
		case StringBind:
			if err := w.WriteLString(b.StringVal); err != nil {
				return err
			}
		case IntegerBind:
			if err := w.WriteI64(b.IntVal); err != nil {
				return err
			}
		case DoubleBind:
			if err := w.WriteU32(uint32(b.Precision)); err != nil {
				return err
			}
			if err := w.WriteU32(uint32(b.Scale)); err != nil {
				return err
			}
			if err := w.WriteU64(float64ToBits(b.DoubleVal)); err != nil {
				return err
			}
		case BlobBind:
			if err := w.WriteLBytes(b.BlobVal); err != nil {
				return err
			}
		case ClobBind:
			if err := w.WriteLBytes(b.ClobVal); err != nil {
				return err
			}
		case CursorBind:
			if err := w.WriteU16(b.CursorID); err != nil {
				return err
			}
		case DateBind:
			if err := writeDate(w, b.DateVal); err != nil {
				return err
			}
		}
	}
	return w.WriteU8(uint8(EndBindVars))
}

func readDate(r *Reader) (DateValue, error) {
	var dv DateValue
	fields := []*int32{&dv.Year, &dv.Month, &dv.Day, &dv.Hour, &dv.Minute, &dv.Second, &dv.Microsecond}
	for _, f := range fields {
		v, err := r.ReadU32()
		if err != nil {
			return dv, err
		}
		*f = int32(v)
	}
	tz, err := r.ReadLString(64)
	if err != nil {
		return dv, err
	}
	dv.TZ = tz
	return dv, nil
}

func writeDate(w *Writer, dv DateValue) error {
	fields := []int32{dv.Year, dv.Month, dv.Day, dv.Hour, dv.Minute, dv.Second, dv.Microsecond}
	for _, f := range fields {
		if err := w.WriteU32(uint32(f)); err != nil {
			return err
		}
	}
	return w.WriteLString(dv.TZ)
}
