package rawdb

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTx serves cursors over sorted in-memory tables. Dup-sort tables store
// subkey-prefixed values under one key, mirroring the wire contract.
type memTx struct {
	tables map[string][]KeyValue // sorted by key
	dups   map[string]map[string][][]byte
}

func newMemTx() *memTx {
	return &memTx{
		tables: map[string][]KeyValue{},
		dups:   map[string]map[string][][]byte{},
	}
}

func (m *memTx) put(table string, key, value []byte) {
	entries := append(m.tables[table], KeyValue{Key: key, Value: value})
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Key, entries[j].Key) < 0 })
	m.tables[table] = entries
}

func (m *memTx) putDup(table string, key, value []byte) {
	if m.dups[table] == nil {
		m.dups[table] = map[string][][]byte{}
	}
	values := append(m.dups[table][string(key)], value)
	sort.Slice(values, func(i, j int) bool { return bytes.Compare(values[i], values[j]) < 0 })
	m.dups[table][string(key)] = values
}

func (m *memTx) Cursor(ctx context.Context, table string) (Cursor, error) {
	return &memCursor{entries: m.tables[table], pos: -1}, nil
}

func (m *memTx) CursorDupSort(ctx context.Context, table string) (DupCursor, error) {
	return &memCursor{entries: m.tables[table], dups: m.dups[table], pos: -1}, nil
}

type memCursor struct {
	entries []KeyValue
	dups    map[string][][]byte
	pos     int
}

func (c *memCursor) Seek(ctx context.Context, seek []byte) ([]byte, []byte, error) {
	for i, entry := range c.entries {
		if bytes.Compare(entry.Key, seek) >= 0 {
			c.pos = i
			return entry.Key, entry.Value, nil
		}
	}
	c.pos = len(c.entries)
	return nil, nil, nil
}

func (c *memCursor) SeekExact(ctx context.Context, seek []byte) ([]byte, []byte, error) {
	k, v, err := c.Seek(ctx, seek)
	if err != nil || k == nil || !bytes.Equal(k, seek) {
		return nil, nil, err
	}
	return k, v, nil
}

func (c *memCursor) Next(ctx context.Context) ([]byte, []byte, error) {
	c.pos++
	if c.pos >= len(c.entries) {
		return nil, nil, nil
	}
	return c.entries[c.pos].Key, c.entries[c.pos].Value, nil
}

func (c *memCursor) SeekBoth(ctx context.Context, key, subkey []byte) ([]byte, error) {
	for _, value := range c.dups[string(key)] {
		if bytes.Compare(value, subkey) >= 0 {
			return value, nil
		}
	}
	return nil, nil
}

func (c *memCursor) Close(ctx context.Context) error { return nil }

func TestReaderGetAndGetOne(t *testing.T) {
	ctx := context.Background()
	tx := newMemTx()
	tx.put("t", []byte{0x01}, []byte("one"))
	tx.put("t", []byte{0x03}, []byte("three"))
	reader := NewTxDatabaseReader(tx)

	// Get lands on the first pair at or after the key.
	kv, err := reader.Get(ctx, "t", []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, kv.Key)
	assert.Equal(t, []byte("three"), kv.Value)

	// GetOne is exact.
	value, err := reader.GetOne(ctx, "t", []byte{0x02})
	require.NoError(t, err)
	assert.Empty(t, value)

	value, err = reader.GetOne(ctx, "t", []byte{0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), value)
}

func TestReaderGetBothRange(t *testing.T) {
	ctx := context.Background()
	tx := newMemTx()
	tx.putDup("t", []byte("acct"), append([]byte{0x10}, []byte("low")...))
	tx.putDup("t", []byte("acct"), append([]byte{0x20}, []byte("high")...))
	reader := NewTxDatabaseReader(tx)

	value, err := reader.GetBothRange(ctx, "t", []byte("acct"), []byte{0x11})
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x20}, []byte("high")...), value)

	value, err = reader.GetBothRange(ctx, "t", []byte("acct"), []byte{0x21})
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestReaderWalkFixedBits(t *testing.T) {
	ctx := context.Background()
	tx := newMemTx()
	tx.put("t", []byte{0b1010_0000, 0x01}, []byte("a"))
	tx.put("t", []byte{0b1010_0000, 0x02}, []byte("b"))
	tx.put("t", []byte{0b1010_1111, 0x01}, []byte("c"))
	tx.put("t", []byte{0b1100_0000, 0x01}, []byte("d"))
	reader := NewTxDatabaseReader(tx)

	var visited []string
	// First 4 bits fixed: 1010____ matches a, b and c but not d.
	err := reader.Walk(ctx, "t", []byte{0b1010_0000, 0x00}, 4, func(k, v []byte) (bool, error) {
		visited = append(visited, string(v))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, visited)

	// Zero fixed bits walks to the end of the table.
	visited = nil
	err = reader.Walk(ctx, "t", []byte{0b1010_0000, 0x00}, 0, func(k, v []byte) (bool, error) {
		visited = append(visited, string(v))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, visited)

	// The walker can stop early.
	visited = nil
	err = reader.Walk(ctx, "t", []byte{0b1010_0000, 0x00}, 4, func(k, v []byte) (bool, error) {
		visited = append(visited, string(v))
		return len(visited) < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, visited)
}

func TestReaderForPrefix(t *testing.T) {
	ctx := context.Background()
	tx := newMemTx()
	tx.put("t", []byte("aa1"), []byte("1"))
	tx.put("t", []byte("aa2"), []byte("2"))
	tx.put("t", []byte("ab1"), []byte("3"))
	reader := NewTxDatabaseReader(tx)

	var visited []string
	err := reader.ForPrefix(ctx, "t", []byte("aa"), func(k, v []byte) (bool, error) {
		visited = append(visited, string(v))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, visited)
}
