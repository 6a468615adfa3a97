package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorFrameRoundTrip(t *testing.T) {
	frames := []Cursor{
		{Op: OpOpen, Table: "PlainState"},
		{Op: OpOpenDupSort, Table: "PlainState"},
		{Op: OpSeek, CursorId: 0x23, Key: []byte{0x01, 0x02}},
		{Op: OpSeekBoth, CursorId: 7, Key: []byte("key"), SubKey: []byte("subkey")},
		{Op: OpNext, CursorId: 1},
		{Op: OpClose, CursorId: 0xffffffff},
	}
	for _, frame := range frames {
		decoded, err := DecodeCursor(frame.Encode())
		require.NoError(t, err, frame.Op.String())
		assert.Equal(t, frame.Op, decoded.Op)
		assert.Equal(t, frame.CursorId, decoded.CursorId)
		assert.Equal(t, frame.Table, decoded.Table)
		assert.Equal(t, frame.Key, decoded.Key)
		assert.Equal(t, frame.SubKey, decoded.SubKey)
	}
}

func TestPairFrameRoundTrip(t *testing.T) {
	frames := []Pair{
		{TxnId: 4},
		{CursorId: 0x23},
		{Key: []byte{0xde, 0xad}, Value: []byte{0xbe, 0xef}},
		{TxnId: 1, CursorId: 2, Key: []byte("k"), Value: []byte("v")},
	}
	for _, frame := range frames {
		decoded, err := DecodePair(frame.Encode())
		require.NoError(t, err)
		assert.Equal(t, frame.TxnId, decoded.TxnId)
		assert.Equal(t, frame.CursorId, decoded.CursorId)
		assert.Equal(t, frame.Key, decoded.Key)
		assert.Equal(t, frame.Value, decoded.Value)
	}
}

func TestDecodeTruncatedFramesFail(t *testing.T) {
	full := (&Cursor{Op: OpSeek, CursorId: 1, Key: []byte("key")}).Encode()
	for cut := 0; cut < len(full); cut++ {
		_, err := DecodeCursor(full[:cut])
		require.Error(t, err, "cut at %d", cut)
		assert.Equal(t, StatusInternal, ErrorCode(err))
	}

	fullPair := (&Pair{TxnId: 9, Key: []byte("k"), Value: []byte("v")}).Encode()
	for cut := 0; cut < len(fullPair); cut++ {
		_, err := DecodePair(fullPair[:cut])
		require.Error(t, err, "cut at %d", cut)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	frame := append((&Pair{TxnId: 1}).Encode(), 0x00)
	_, err := DecodePair(frame)
	require.Error(t, err)
}
