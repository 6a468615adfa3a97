package kv

import (
	"encoding/binary"
	"fmt"
)

// Op is the request opcode carried in the first byte of a Cursor frame.
type Op uint8

const (
	OpOpen Op = iota + 1
	OpOpenDupSort
	OpClose
	OpSeek
	OpSeekExact
	OpNext
	OpPrev
	OpFirst
	OpLast
	OpCurrent
	OpSeekBoth
	OpSeekBothExact
	OpNextDup
	OpNextNoDup
	OpPrevDup
)

func (op Op) String() string {
	switch op {
	case OpOpen:
		return "OPEN"
	case OpOpenDupSort:
		return "OPEN_DUP_SORT"
	case OpClose:
		return "CLOSE"
	case OpSeek:
		return "SEEK"
	case OpSeekExact:
		return "SEEK_EXACT"
	case OpNext:
		return "NEXT"
	case OpPrev:
		return "PREV"
	case OpFirst:
		return "FIRST"
	case OpLast:
		return "LAST"
	case OpCurrent:
		return "CURRENT"
	case OpSeekBoth:
		return "SEEK_BOTH"
	case OpSeekBothExact:
		return "SEEK_BOTH_EXACT"
	case OpNextDup:
		return "NEXT_DUP"
	case OpNextNoDup:
		return "NEXT_NO_DUP"
	case OpPrevDup:
		return "PREV_DUP"
	default:
		return fmt.Sprintf("OP(%d)", uint8(op))
	}
}

// Cursor is one request frame on the stream.
//
// Layout: op(1) | cursor_id(4 BE) | table_len(2 BE) | table |
// key_len(4 BE) | key | subkey_len(4 BE) | subkey.
// Table is non-empty only for OPEN/OPEN_DUP_SORT; cursor_id is zero there.
type Cursor struct {
	Op       Op
	CursorId uint32
	Table    string
	Key      []byte
	SubKey   []byte
}

// Pair is one response frame on the stream.
//
// Layout: txn_id(8 BE) | cursor_id(4 BE) | key_len(4 BE) | key |
// value_len(4 BE) | value. TxnId is meaningful only in the first frame after
// stream start; CursorId only in the reply to OPEN. Empty key and value in a
// positioning reply means end-of-range.
type Pair struct {
	TxnId    uint64
	CursorId uint32
	Key      []byte
	Value    []byte
}

func (c *Cursor) Encode() []byte {
	out := make([]byte, 0, 1+4+2+len(c.Table)+4+len(c.Key)+4+len(c.SubKey))
	out = append(out, byte(c.Op))
	out = binary.BigEndian.AppendUint32(out, c.CursorId)
	out = binary.BigEndian.AppendUint16(out, uint16(len(c.Table)))
	out = append(out, c.Table...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Key)))
	out = append(out, c.Key...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.SubKey)))
	out = append(out, c.SubKey...)
	return out
}

func DecodeCursor(b []byte) (Cursor, error) {
	var c Cursor
	if len(b) < 1+4+2 {
		return c, NewStatusError(StatusInternal, "truncated cursor frame")
	}
	c.Op = Op(b[0])
	c.CursorId = binary.BigEndian.Uint32(b[1:5])
	tableLen := int(binary.BigEndian.Uint16(b[5:7]))
	b = b[7:]
	if len(b) < tableLen {
		return c, NewStatusError(StatusInternal, "truncated cursor table")
	}
	c.Table = string(b[:tableLen])
	b = b[tableLen:]
	var err error
	if c.Key, b, err = readChunk(b); err != nil {
		return c, err
	}
	if c.SubKey, b, err = readChunk(b); err != nil {
		return c, err
	}
	if len(b) != 0 {
		return c, NewStatusError(StatusInternal, "trailing bytes in cursor frame")
	}
	return c, nil
}

func (p *Pair) Encode() []byte {
	out := make([]byte, 0, 8+4+4+len(p.Key)+4+len(p.Value))
	out = binary.BigEndian.AppendUint64(out, p.TxnId)
	out = binary.BigEndian.AppendUint32(out, p.CursorId)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.Key)))
	out = append(out, p.Key...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.Value)))
	out = append(out, p.Value...)
	return out
}

func DecodePair(b []byte) (Pair, error) {
	var p Pair
	if len(b) < 8+4 {
		return p, NewStatusError(StatusInternal, "truncated pair frame")
	}
	p.TxnId = binary.BigEndian.Uint64(b[:8])
	p.CursorId = binary.BigEndian.Uint32(b[8:12])
	b = b[12:]
	var err error
	if p.Key, b, err = readChunk(b); err != nil {
		return p, err
	}
	if p.Value, b, err = readChunk(b); err != nil {
		return p, err
	}
	if len(b) != 0 {
		return p, NewStatusError(StatusInternal, "trailing bytes in pair frame")
	}
	return p, nil
}

func readChunk(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, NewStatusError(StatusInternal, "truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) < n {
		return nil, nil, NewStatusError(StatusInternal, "truncated payload")
	}
	if n == 0 {
		return nil, b, nil
	}
	chunk := make([]byte, n)
	copy(chunk, b[:n])
	return chunk, b[n:], nil
}
