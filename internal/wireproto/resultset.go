package wireproto

// ColumnInfo is one result-set column descriptor in the wire protocol's
// per-column layout.
type ColumnInfo struct {
	Name            string
	TypeID          uint16
	Size            uint32
	Precision       uint32
	Scale           uint32
	Nullable        bool
	PrimaryKey      bool
	Unique          bool
	PartOfKey       bool
	Unsigned        bool
	Zerofill        bool
	Binary          bool
	AutoIncrement   bool
}

// WriteColumnInfo writes the SEND_COLUMN_INFO preamble and, if sendInfo,
// the full column descriptor list.
func WriteColumnInfo(w *Writer, cols []ColumnInfo, sendInfo bool) error {
	if !sendInfo {
		return w.WriteU16(DontSendColumnInfo)
	}
	if err := w.WriteU16(SendColumnInfo); err != nil {
		return err
	}
	if err := w.WriteU32(uint32(len(cols))); err != nil {
		return err
	}
	for _, c := range cols {
		if err := w.WriteLString(c.Name); err != nil {
			return err
		}
		if err := w.WriteU16(c.TypeID); err != nil {
			return err
		}
		if err := w.WriteU32(c.Size); err != nil {
			return err
		}
		if err := w.WriteU32(c.Precision); err != nil {
			return err
		}
		if err := w.WriteU32(c.Scale); err != nil {
			return err
		}
		for _, b := range []bool{c.Nullable, c.PrimaryKey, c.Unique, c.PartOfKey, c.Unsigned, c.Zerofill, c.Binary, c.AutoIncrement} {
			if err := w.WriteU16(boolU16(b)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadColumnInfo is the client-side dual of WriteColumnInfo; the daemon
// does not use it but the in-process test harness (standing in for a real
// client) does.
func ReadColumnInfo(r *Reader) (cols []ColumnInfo, sendInfo bool, err error) {
	flag, err := r.ReadU16()
	if err != nil {
		return nil, false, err
	}
	if flag == DontSendColumnInfo {
		return nil, false, nil
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, false, err
	}
	cols = make([]ColumnInfo, count)
	for i := range cols {
		name, err := r.ReadLString(0)
		if err != nil {
			return nil, false, err
		}
		typeID, err := r.ReadU16()
		if err != nil {
			return nil, false, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, false, err
		}
		precision, err := r.ReadU32()
		if err != nil {
			return nil, false, err
		}
		scale, err := r.ReadU32()
		if err != nil {
			return nil, false, err
		}
		flags := make([]bool, 8)
		for j := range flags {
			v, err := r.ReadU16()
			if err != nil {
				return nil, false, err
			}
			flags[j] = v != 0
		}
		cols[i] = ColumnInfo{
			Name: name, TypeID: typeID, Size: size, Precision: precision, Scale: scale,
			Nullable: flags[0], PrimaryKey: flags[1], Unique: flags[2], PartOfKey: flags[3],
			Unsigned: flags[4], Zerofill: flags[5], Binary: flags[6], AutoIncrement: flags[7],
		}
	}
	return cols, true, nil
}

func boolU16(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// Cell is one row/column value as it travels on the wire.
type Cell struct {
	Tag  DataTag
	Data []byte // for StringData/IntegerData(as text)/DoubleData(as text)/DateData(encoded)
}

// WriteRowBatchHeader writes the {actual_rows_flag,[actual_rows],
// affected_rows_flag,[affected_rows]} preamble of one row batch.
func WriteRowBatchHeader(w *Writer, actualRows *uint64, affectedRows *uint64) error {
	if actualRows != nil {
		if err := w.WriteU16(1); err != nil {
			return err
		}
		if err := w.WriteU64(*actualRows); err != nil {
			return err
		}
	} else if err := w.WriteU16(0); err != nil {
		return err
	}

	if affectedRows != nil {
		if err := w.WriteU16(1); err != nil {
			return err
		}
		if err := w.WriteU64(*affectedRows); err != nil {
			return err
		}
	} else if err := w.WriteU16(0); err != nil {
		return err
	}
	return nil
}

// WriteRow writes one row: per-column {u8 data_tag, u32 len, bytes}.
func WriteRow(w *Writer, cells []Cell) error {
	for _, c := range cells {
		if err := w.WriteU8(uint8(c.Tag)); err != nil {
			return err
		}
		if err := w.WriteLBytes(c.Data); err != nil {
			return err
		}
	}
	return nil
}

// WriteEndResultSet writes the END_RESULT_SET batch-boundary marker.
func WriteEndResultSet(w *Writer) error {
	return w.WriteU16(EndResultSet)
}

// WriteErrorResponse writes an error record in place of the next expected
// payload.
func WriteErrorResponse(w *Writer, disconnect bool, nativeCode int64, sqlstate, message string) error {
	kind := ErrorOccurred
	if disconnect {
		kind = ErrorOccurredDisconnect
	}
	if err := w.WriteU16(kind); err != nil {
		return err
	}
	if err := w.WriteI64(nativeCode); err != nil {
		return err
	}
	if err := w.WriteLString(sqlstate); err != nil {
		return err
	}
	return w.WriteLString(message)
}
