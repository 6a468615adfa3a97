package kv

import (
	"context"
	"sync/atomic"
)

// RemoteCursor is a typed accessor over one server-allocated cursor id.
//
// A cursor holds no server-side lock independent of its transaction: any
// failure that poisons the transaction invalidates the cursor, and closing
// the transaction zeroes its id. Every operation is one write/read pair
// executed through the owning transaction's serializer.
type RemoteCursor struct {
	tx      *RemoteTransaction
	id      uint32
	table   string
	dupSort bool
	invalid atomic.Bool
}

// CursorId returns the server-allocated id; zero means not open or closed.
func (c *RemoteCursor) CursorId() uint32 {
	if c.invalid.Load() {
		return 0
	}
	return c.id
}

func (c *RemoteCursor) Table() string { return c.table }

func (c *RemoteCursor) invalidate() {
	c.invalid.Store(true)
}

// Seek positions the cursor at the first key >= seek.
// A nil key and value mean end-of-range.
func (c *RemoteCursor) Seek(ctx context.Context, seek []byte) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpSeek, CursorId: c.id, Key: seek})
}

// SeekExact positions the cursor at exactly seek, or nowhere.
func (c *RemoteCursor) SeekExact(ctx context.Context, seek []byte) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpSeekExact, CursorId: c.id, Key: seek})
}

func (c *RemoteCursor) Next(ctx context.Context) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpNext, CursorId: c.id})
}

func (c *RemoteCursor) Prev(ctx context.Context) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpPrev, CursorId: c.id})
}

func (c *RemoteCursor) First(ctx context.Context) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpFirst, CursorId: c.id})
}

func (c *RemoteCursor) Last(ctx context.Context) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpLast, CursorId: c.id})
}

func (c *RemoteCursor) Current(ctx context.Context) ([]byte, []byte, error) {
	return c.position(ctx, Cursor{Op: OpCurrent, CursorId: c.id})
}

// SeekBoth positions a dup-sort cursor at key and the first value >= subkey,
// returning the value only.
func (c *RemoteCursor) SeekBoth(ctx context.Context, key, subkey []byte) ([]byte, error) {
	if err := c.requireDupSort(); err != nil {
		return nil, err
	}
	_, v, err := c.position(ctx, Cursor{Op: OpSeekBoth, CursorId: c.id, Key: key, SubKey: subkey})
	return v, err
}

// SeekBothExact positions a dup-sort cursor at exactly (key, subkey).
func (c *RemoteCursor) SeekBothExact(ctx context.Context, key, subkey []byte) ([]byte, []byte, error) {
	if err := c.requireDupSort(); err != nil {
		return nil, nil, err
	}
	return c.position(ctx, Cursor{Op: OpSeekBothExact, CursorId: c.id, Key: key, SubKey: subkey})
}

// NextDup moves to the next value of the current key.
func (c *RemoteCursor) NextDup(ctx context.Context) ([]byte, []byte, error) {
	if err := c.requireDupSort(); err != nil {
		return nil, nil, err
	}
	return c.position(ctx, Cursor{Op: OpNextDup, CursorId: c.id})
}

// NextNoDup moves to the first value of the next key.
func (c *RemoteCursor) NextNoDup(ctx context.Context) ([]byte, []byte, error) {
	if err := c.requireDupSort(); err != nil {
		return nil, nil, err
	}
	return c.position(ctx, Cursor{Op: OpNextNoDup, CursorId: c.id})
}

// PrevDup moves to the previous value of the current key.
func (c *RemoteCursor) PrevDup(ctx context.Context) ([]byte, []byte, error) {
	if err := c.requireDupSort(); err != nil {
		return nil, nil, err
	}
	return c.position(ctx, Cursor{Op: OpPrevDup, CursorId: c.id})
}

// Close releases the server-side cursor. The transaction keeps serving other
// cursors afterwards.
func (c *RemoteCursor) Close(ctx context.Context) error {
	if c.invalid.Load() {
		return nil
	}
	_, err := c.tx.pair(ctx, Cursor{Op: OpClose, CursorId: c.id})
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *RemoteCursor) position(ctx context.Context, req Cursor) ([]byte, []byte, error) {
	if c.invalid.Load() {
		return nil, nil, NewStatusError(StatusCancelled, "cursor is invalid")
	}
	pair, err := c.tx.pair(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return pair.Key, pair.Value, nil
}

func (c *RemoteCursor) requireDupSort() error {
	if !c.dupSort {
		return NewStatusError(StatusInternal, "dup-sort operation on plain cursor over "+c.table)
	}
	return nil
}
