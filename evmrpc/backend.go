package evmrpc

import (
	"context"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/params"

	"github.com/mechanism-s/silkrpc/chain"
	"github.com/mechanism-s/silkrpc/kv"
	"github.com/mechanism-s/silkrpc/rawdb"
)

// Backend bundles what the method handlers need: the immutable chain config,
// the shared block cache, the CPU worker pool and a way to open a fresh
// remote transaction (one stream per request).
type Backend struct {
	ChainConfig *params.ChainConfig
	Cache       *chain.BlockCache
	Workers     pond.Pool
	OpenTx      func() *kv.RemoteTransaction

	// streamSlots bounds the number of concurrently open remote streams to
	// the configured I/O context count.
	streamSlots chan struct{}
}

var backend *Backend

// Setup installs the backend; called once from the daemon bootstrap before
// any server starts accepting requests. contexts bounds concurrent streams.
func Setup(b *Backend, contexts int) {
	if contexts <= 0 {
		contexts = 1
	}
	b.streamSlots = make(chan struct{}, contexts)
	backend = b
}

// withReader opens a remote transaction for the duration of one request and
// guarantees its stream is ended on every exit path.
func withReader(id any, fn func(ctx context.Context, reader rawdb.DatabaseReader) []byte) []byte {
	ctx := context.Background()

	backend.streamSlots <- struct{}{}
	defer func() { <-backend.streamSlots }()

	tx := backend.OpenTx()
	if err := tx.Open(ctx); err != nil {
		return ErrorResponse(id, -32000, err.Error())
	}
	defer tx.Close(ctx)

	return fn(ctx, rawdb.NewRemoteDatabaseReader(tx))
}
