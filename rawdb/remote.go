package rawdb

import (
	"context"

	"github.com/mechanism-s/silkrpc/kv"
)

// remoteTx adapts a kv.RemoteTransaction to the Tx cursor interfaces.
type remoteTx struct {
	tx *kv.RemoteTransaction
}

func (a remoteTx) Cursor(ctx context.Context, table string) (Cursor, error) {
	cursor, err := a.tx.Cursor(ctx, table)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (a remoteTx) CursorDupSort(ctx context.Context, table string) (DupCursor, error) {
	cursor, err := a.tx.CursorDupSort(ctx, table)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// NewRemoteDatabaseReader builds the read façade over an open remote
// transaction.
func NewRemoteDatabaseReader(tx *kv.RemoteTransaction) *TxDatabaseReader {
	return NewTxDatabaseReader(remoteTx{tx: tx})
}
