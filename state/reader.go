package state

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/rawdb"
)

// Account is the plain-state account record.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	CodeHash    common.Hash
	Incarnation uint64
}

func NewEmptyAccount() *Account {
	return &Account{Balance: new(uint256.Int), CodeHash: emptyCodeHash}
}

func EncodeAccount(account *Account) ([]byte, error) {
	return rlp.EncodeToBytes(account)
}

func DecodeAccount(enc []byte) (*Account, error) {
	account := new(Account)
	if err := rlp.DecodeBytes(enc, account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if account.Balance == nil {
		account.Balance = new(uint256.Int)
	}
	return account, nil
}

// StateReader reads world state at one block boundary.
type StateReader interface {
	ReadAccountData(ctx context.Context, address common.Address) (*Account, error)
	ReadAccountStorage(ctx context.Context, address common.Address, incarnation uint64, location common.Hash) (uint256.Int, error)
	ReadAccountCode(ctx context.Context, codeHash common.Hash) ([]byte, error)
	ReadAccountCodeSize(ctx context.Context, codeHash common.Hash) (int, error)
}

// RemoteStateReader resolves accounts, storage and code through the database
// reader. The transaction behind the reader pins one consistent snapshot;
// blockNumber records the boundary the executor selected.
type RemoteStateReader struct {
	reader      rawdb.DatabaseReader
	blockNumber uint64
}

func NewRemoteStateReader(reader rawdb.DatabaseReader, blockNumber uint64) *RemoteStateReader {
	return &RemoteStateReader{reader: reader, blockNumber: blockNumber}
}

func (r *RemoteStateReader) BlockNumber() uint64 { return r.blockNumber }

// ReadAccountData returns nil for a non-existent account.
func (r *RemoteStateReader) ReadAccountData(ctx context.Context, address common.Address) (*Account, error) {
	enc, err := r.reader.GetOne(ctx, constants.TablePlainState, address.Bytes())
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 {
		return nil, nil
	}
	return DecodeAccount(enc)
}

// ReadAccountStorage reads one storage slot. Storage lives in the dup-sort
// part of the plain state: key = address ++ incarnation(8 BE), each dup value
// = location(32) ++ payload.
func (r *RemoteStateReader) ReadAccountStorage(ctx context.Context, address common.Address, incarnation uint64, location common.Hash) (uint256.Int, error) {
	key := make([]byte, 0, common.AddressLength+8)
	key = append(key, address.Bytes()...)
	key = binary.BigEndian.AppendUint64(key, incarnation)

	var value uint256.Int
	dup, err := r.reader.GetBothRange(ctx, constants.TablePlainState, key, location.Bytes())
	if err != nil {
		return value, err
	}
	if len(dup) < common.HashLength {
		return value, nil
	}
	if common.BytesToHash(dup[:common.HashLength]) != location {
		return value, nil
	}
	value.SetBytes(dup[common.HashLength:])
	return value, nil
}

func (r *RemoteStateReader) ReadAccountCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	if codeHash == (common.Hash{}) || codeHash == emptyCodeHash {
		return nil, nil
	}
	return r.reader.GetOne(ctx, constants.TableCode, codeHash.Bytes())
}

func (r *RemoteStateReader) ReadAccountCodeSize(ctx context.Context, codeHash common.Hash) (int, error) {
	code, err := r.ReadAccountCode(ctx, codeHash)
	if err != nil {
		return 0, err
	}
	return len(code), nil
}

var emptyCodeHash = crypto.Keccak256Hash(nil)
