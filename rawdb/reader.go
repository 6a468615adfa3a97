package rawdb

import (
	"bytes"
	"context"
)

// Cursor is the slice of the remote cursor surface the reader needs.
type Cursor interface {
	Seek(ctx context.Context, seek []byte) ([]byte, []byte, error)
	SeekExact(ctx context.Context, seek []byte) ([]byte, []byte, error)
	Next(ctx context.Context) ([]byte, []byte, error)
	Close(ctx context.Context) error
}

// DupCursor extends Cursor with dup-sort positioning.
type DupCursor interface {
	Cursor
	SeekBoth(ctx context.Context, key, subkey []byte) ([]byte, error)
}

// Tx vends cursors over one consistent read snapshot.
type Tx interface {
	Cursor(ctx context.Context, table string) (Cursor, error)
	CursorDupSort(ctx context.Context, table string) (DupCursor, error)
}

type KeyValue struct {
	Key   []byte
	Value []byte
}

// Walker visits one pair; returning false stops the iteration.
type Walker func(key, value []byte) (bool, error)

// DatabaseReader is the stateless read façade the chain and state layers are
// built on.
type DatabaseReader interface {
	Get(ctx context.Context, table string, key []byte) (KeyValue, error)
	GetOne(ctx context.Context, table string, key []byte) ([]byte, error)
	GetBothRange(ctx context.Context, table string, key, subkey []byte) ([]byte, error)
	Walk(ctx context.Context, table string, startKey []byte, fixedBits uint32, walker Walker) error
	ForPrefix(ctx context.Context, table string, prefix []byte, walker Walker) error
}

// TxDatabaseReader serves reads through transaction cursors. Cursors
// allocated for a single read are closed before return; nothing is held
// across calls.
type TxDatabaseReader struct {
	tx Tx
}

func NewTxDatabaseReader(tx Tx) *TxDatabaseReader {
	return &TxDatabaseReader{tx: tx}
}

// Get returns the first pair at or after key, or an empty pair past the end
// of the table.
func (r *TxDatabaseReader) Get(ctx context.Context, table string, key []byte) (KeyValue, error) {
	cursor, err := r.tx.Cursor(ctx, table)
	if err != nil {
		return KeyValue{}, err
	}
	defer cursor.Close(ctx)

	k, v, err := cursor.Seek(ctx, key)
	if err != nil {
		return KeyValue{}, err
	}
	return KeyValue{Key: k, Value: v}, nil
}

// GetOne returns the value stored at exactly key, or empty bytes if missing.
func (r *TxDatabaseReader) GetOne(ctx context.Context, table string, key []byte) ([]byte, error) {
	cursor, err := r.tx.Cursor(ctx, table)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	_, v, err := cursor.SeekExact(ctx, key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetBothRange returns the first dup value >= subkey under key, or nil when
// the key has no such value.
func (r *TxDatabaseReader) GetBothRange(ctx context.Context, table string, key, subkey []byte) ([]byte, error) {
	cursor, err := r.tx.CursorDupSort(ctx, table)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return cursor.SeekBoth(ctx, key, subkey)
}

// Walk iterates forward from startKey while the first fixedBits bits of the
// visited key match startKey's.
func (r *TxDatabaseReader) Walk(ctx context.Context, table string, startKey []byte, fixedBits uint32, walker Walker) error {
	cursor, err := r.tx.Cursor(ctx, table)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	fixedBytes, mask := bytesMask(fixedBits)

	k, v, err := cursor.Seek(ctx, startKey)
	if err != nil {
		return err
	}
	for k != nil && len(k) >= fixedBytes && (fixedBits == 0 || matchesFixed(k, startKey, fixedBytes, mask)) {
		goOn, err := walker(k, v)
		if err != nil {
			return err
		}
		if !goOn {
			break
		}
		if k, v, err = cursor.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ForPrefix iterates forward while the key begins with prefix.
func (r *TxDatabaseReader) ForPrefix(ctx context.Context, table string, prefix []byte, walker Walker) error {
	cursor, err := r.tx.Cursor(ctx, table)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	k, v, err := cursor.Seek(ctx, prefix)
	if err != nil {
		return err
	}
	for k != nil && bytes.HasPrefix(k, prefix) {
		goOn, err := walker(k, v)
		if err != nil {
			return err
		}
		if !goOn {
			break
		}
		if k, v, err = cursor.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func bytesMask(fixedBits uint32) (int, byte) {
	fixedBytes := int((fixedBits + 7) / 8)
	shiftBits := fixedBits & 7
	mask := byte(0xff)
	if shiftBits != 0 {
		mask = 0xff << (8 - shiftBits)
	}
	return fixedBytes, mask
}

func matchesFixed(k, start []byte, fixedBytes int, mask byte) bool {
	if fixedBytes == 0 {
		return true
	}
	if len(start) < fixedBytes {
		return false
	}
	if !bytes.Equal(k[:fixedBytes-1], start[:fixedBytes-1]) {
		return false
	}
	return k[fixedBytes-1]&mask == start[fixedBytes-1]&mask
}
