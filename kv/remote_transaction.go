package kv

import (
	"context"
	"sync"
)

// TxnState tracks the lifecycle of a RemoteTransaction.
type TxnState int32

const (
	TxnUnopened TxnState = iota
	TxnOpening
	TxnOpen
	TxnClosing
	TxnClosed
	TxnFailed
)

func (s TxnState) String() string {
	switch s {
	case TxnUnopened:
		return "unopened"
	case TxnOpening:
		return "opening"
	case TxnOpen:
		return "open"
	case TxnClosing:
		return "closing"
	case TxnClosed:
		return "closed"
	case TxnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RemoteTransaction multiplexes many logical cursors over one server-side
// read transaction carried by a single bidirectional stream.
//
// The serializer mutex is held across every write/read pair, so the order of
// writes observed by the server equals the order in which callers reached the
// transaction, and inbound frames match outbound requests one-for-one in FIFO
// order. Concurrent callers are admitted first-come-first-served.
//
// Any frame error poisons the transaction: the state moves to TxnFailed and
// every subsequent operation fails immediately with CANCELLED. Cursors vended
// by the transaction are only usable while it remains open.
type RemoteTransaction struct {
	client StreamingClient

	mu      sync.Mutex // serializes write/read pairs and guards the fields below
	state   TxnState
	viewId  uint64
	cursors []*RemoteCursor
}

func NewRemoteTransaction(client StreamingClient) *RemoteTransaction {
	return &RemoteTransaction{client: client, state: TxnUnopened}
}

// ViewID returns the server-assigned transaction id. Valid only after a
// successful Open.
func (tx *RemoteTransaction) ViewID() uint64 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.viewId
}

func (tx *RemoteTransaction) State() TxnState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Open starts the stream and harvests the transaction id from the first
// inbound frame. Fails with the server status if either step fails.
func (tx *RemoteTransaction) Open(ctx context.Context) error {

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxnUnopened {
		return NewStatusError(StatusInternal, "transaction is "+tx.state.String())
	}
	tx.state = TxnOpening

	if err := tx.client.StartCall(ctx); err != nil {
		tx.state = TxnFailed
		return err
	}

	pair, err := tx.client.ReadOne(ctx)
	if err != nil {
		tx.state = TxnFailed
		return err
	}

	tx.viewId = pair.TxnId
	tx.state = TxnOpen
	return nil
}

// Close ends the stream. If the transaction is not open it idempotently
// transitions to TxnClosed. Closing invalidates every vended cursor.
func (tx *RemoteTransaction) Close(ctx context.Context) error {

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxnOpen {
		tx.state = TxnClosed
		tx.invalidateCursors()
		return nil
	}

	tx.state = TxnClosing

	if err := tx.client.EndCall(ctx); err != nil {
		tx.state = TxnFailed
		tx.invalidateCursors()
		return err
	}

	tx.state = TxnClosed
	tx.invalidateCursors()
	return nil
}

// Cursor allocates a plain cursor over table.
func (tx *RemoteTransaction) Cursor(ctx context.Context, table string) (*RemoteCursor, error) {
	return tx.openCursor(ctx, table, false)
}

// CursorDupSort allocates a cursor over a table with multiple ordered values
// per key.
func (tx *RemoteTransaction) CursorDupSort(ctx context.Context, table string) (*RemoteCursor, error) {
	return tx.openCursor(ctx, table, true)
}

func (tx *RemoteTransaction) openCursor(ctx context.Context, table string, dupSort bool) (*RemoteCursor, error) {

	op := OpOpen
	if dupSort {
		op = OpOpenDupSort
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	pair, err := tx.pairLocked(ctx, Cursor{Op: op, Table: table})
	if err != nil {
		return nil, err
	}

	cursor := &RemoteCursor{tx: tx, id: pair.CursorId, table: table, dupSort: dupSort}
	tx.cursors = append(tx.cursors, cursor)
	return cursor, nil
}

// pair performs one write/read round-trip, atomically with respect to every
// other user of the transaction.
func (tx *RemoteTransaction) pair(ctx context.Context, req Cursor) (Pair, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.pairLocked(ctx, req)
}

func (tx *RemoteTransaction) pairLocked(ctx context.Context, req Cursor) (Pair, error) {

	if tx.state != TxnOpen {
		return Pair{}, NewStatusError(StatusCancelled, "transaction is "+tx.state.String())
	}

	if err := tx.client.WriteOne(ctx, req); err != nil {
		tx.poisonLocked()
		return Pair{}, err
	}

	pair, err := tx.client.ReadOne(ctx)
	if err != nil {
		tx.poisonLocked()
		return Pair{}, err
	}

	return pair, nil
}

func (tx *RemoteTransaction) poisonLocked() {
	tx.state = TxnFailed
	tx.invalidateCursors()
}

func (tx *RemoteTransaction) invalidateCursors() {
	for _, cursor := range tx.cursors {
		cursor.invalidate()
	}
	tx.cursors = tx.cursors[:0]
}
