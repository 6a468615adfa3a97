package chain

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/rawdb"
)

// Chain table key encodings:
//
//	CanonicalHeader: number(8 BE)           -> hash(32)
//	HeaderNumber:    hash(32)               -> number(8 BE)
//	Header:          number(8 BE) ++ hash   -> RLP(header)
//	BlockBody:       number(8 BE) ++ hash   -> RLP(body)
//	TxLookup:        tx hash(32)            -> number(8 BE)

func EncodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func blockKey(number uint64, hash common.Hash) []byte {
	return append(EncodeBlockNumber(number), hash.Bytes()...)
}

// ReadCanonicalHash returns the canonical block hash at a height, or a zero
// hash when the height is past the chain head.
func ReadCanonicalHash(ctx context.Context, reader rawdb.DatabaseReader, number uint64) (common.Hash, error) {
	value, err := reader.GetOne(ctx, constants.TableCanonicalHeader, EncodeBlockNumber(number))
	if err != nil {
		return common.Hash{}, err
	}
	if len(value) == 0 {
		return common.Hash{}, nil
	}
	if len(value) != common.HashLength {
		return common.Hash{}, fmt.Errorf("canonical hash at %d has %d bytes, want %d", number, len(value), common.HashLength)
	}
	return common.BytesToHash(value), nil
}

// ReadHeaderNumber maps a block hash to its height.
func ReadHeaderNumber(ctx context.Context, reader rawdb.DatabaseReader, hash common.Hash) (uint64, bool, error) {
	value, err := reader.GetOne(ctx, constants.TableHeaderNumber, hash.Bytes())
	if err != nil {
		return 0, false, err
	}
	if len(value) == 0 {
		return 0, false, nil
	}
	if len(value) != 8 {
		return 0, false, fmt.Errorf("header number for %x has %d bytes, want 8", hash, len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}

// ReadHeader decodes the header stored under number+hash, or nil if missing.
func ReadHeader(ctx context.Context, reader rawdb.DatabaseReader, number uint64, hash common.Hash) (*types.Header, error) {
	value, err := reader.GetOne(ctx, constants.TableHeader, blockKey(number, hash))
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(value, header); err != nil {
		return nil, fmt.Errorf("decode header %d %x: %w", number, hash, err)
	}
	return header, nil
}

// ReadBody decodes the block body stored under number+hash, or nil if missing.
func ReadBody(ctx context.Context, reader rawdb.DatabaseReader, number uint64, hash common.Hash) (*types.Body, error) {
	value, err := reader.GetOne(ctx, constants.TableBlockBody, blockKey(number, hash))
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	body := new(types.Body)
	if err := rlp.DecodeBytes(value, body); err != nil {
		return nil, fmt.Errorf("decode body %d %x: %w", number, hash, err)
	}
	return body, nil
}

// ReadBlockNumberByTransactionHash resolves the height of the block holding
// a transaction.
func ReadBlockNumberByTransactionHash(ctx context.Context, reader rawdb.DatabaseReader, txHash common.Hash) (uint64, bool, error) {
	value, err := reader.GetOne(ctx, constants.TableTxLookup, txHash.Bytes())
	if err != nil {
		return 0, false, err
	}
	if len(value) == 0 {
		return 0, false, nil
	}
	if len(value) != 8 {
		return 0, false, fmt.Errorf("tx lookup for %x has %d bytes, want 8", txHash, len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}

// ReadBlockByNumber resolves the canonical block at a height through the
// cache, reading header and body remotely on a miss.
func ReadBlockByNumber(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, number uint64) (*types.Block, error) {
	hash, err := ReadCanonicalHash(ctx, reader, number)
	if err != nil {
		return nil, err
	}
	if hash == (common.Hash{}) {
		return nil, fmt.Errorf("block %d not found", number)
	}
	return readBlock(ctx, cache, reader, number, hash)
}

// ReadBlockByHash resolves a block by hash through the cache.
func ReadBlockByHash(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, hash common.Hash) (*types.Block, error) {
	if block, ok := cache.Get(hash); ok {
		return block, nil
	}
	number, ok, err := ReadHeaderNumber(ctx, reader, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("block %x not found", hash)
	}
	return readBlock(ctx, cache, reader, number, hash)
}

// ReadBlockByNumberOrHash accepts a named id, a number, or a 32-byte hash.
func ReadBlockByNumberOrHash(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, blockId string) (*types.Block, error) {
	if len(blockId) == 2+2*common.HashLength && (blockId[:2] == "0x" || blockId[:2] == "0X") {
		return ReadBlockByHash(ctx, cache, reader, common.HexToHash(blockId))
	}
	number, err := GetBlockNumber(ctx, blockId, reader)
	if err != nil {
		return nil, err
	}
	return ReadBlockByNumber(ctx, cache, reader, number)
}

// ReadBlockByTransactionHash resolves the canonical block containing the
// transaction.
func ReadBlockByTransactionHash(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, txHash common.Hash) (*types.Block, error) {
	number, ok, err := ReadBlockNumberByTransactionHash(ctx, reader, txHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("transaction %x not found", txHash)
	}
	return ReadBlockByNumber(ctx, cache, reader, number)
}

// TransactionWithBlock pairs a transaction with its enclosing block context.
type TransactionWithBlock struct {
	Tx        *types.Transaction
	BlockHash common.Hash
	BlockNum  uint64
	Index     uint64
}

// ReadTransactionByHash locates a transaction inside its canonical block.
// Returns nil when the transaction is unknown.
func ReadTransactionByHash(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, txHash common.Hash) (*TransactionWithBlock, error) {
	number, ok, err := ReadBlockNumberByTransactionHash(ctx, reader, txHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	block, err := ReadBlockByNumber(ctx, cache, reader, number)
	if err != nil {
		return nil, err
	}
	for i, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			return &TransactionWithBlock{
				Tx:        tx,
				BlockHash: block.Hash(),
				BlockNum:  block.NumberU64(),
				Index:     uint64(i),
			}, nil
		}
	}
	return nil, nil
}

func readBlock(ctx context.Context, cache *BlockCache, reader rawdb.DatabaseReader, number uint64, hash common.Hash) (*types.Block, error) {
	if block, ok := cache.Get(hash); ok {
		return block, nil
	}
	header, err := ReadHeader(ctx, reader, number, hash)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("header %d %x not found", number, hash)
	}
	body, err := ReadBody(ctx, reader, number, hash)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = &types.Body{}
	}
	block := types.NewBlockWithHeader(header).WithBody(*body)
	cache.Insert(hash, block)
	return block, nil
}
