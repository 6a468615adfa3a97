package state

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReader serves a fixed account/storage/code set.
type stubReader struct {
	accounts map[common.Address]*Account
	storage  map[common.Address]map[common.Hash]uint256.Int
	code     map[common.Hash][]byte
}

func (s *stubReader) ReadAccountData(ctx context.Context, address common.Address) (*Account, error) {
	account, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	clone := *account
	clone.Balance = new(uint256.Int).Set(account.Balance)
	return &clone, nil
}

func (s *stubReader) ReadAccountStorage(ctx context.Context, address common.Address, incarnation uint64, location common.Hash) (uint256.Int, error) {
	return s.storage[address][location], nil
}

func (s *stubReader) ReadAccountCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	return s.code[codeHash], nil
}

func (s *stubReader) ReadAccountCodeSize(ctx context.Context, codeHash common.Hash) (int, error) {
	return len(s.code[codeHash]), nil
}

var (
	addr1 = common.HexToAddress("0x1000000000000000000000000000000000000001")
	addr2 = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newTestState(reader StateReader) *IntraBlockState {
	if reader == nil {
		reader = &stubReader{}
	}
	return New(reader)
}

func TestReadsMissIntoReader(t *testing.T) {
	reader := &stubReader{
		accounts: map[common.Address]*Account{
			addr1: {Nonce: 3, Balance: uint256.NewInt(1000), CodeHash: emptyCodeHash},
		},
		storage: map[common.Address]map[common.Hash]uint256.Int{
			addr1: {common.HexToHash("0x01"): *uint256.NewInt(42)},
		},
	}
	sdb := newTestState(reader)

	assert.True(t, sdb.Exist(addr1))
	assert.False(t, sdb.Exist(addr2))
	assert.Equal(t, uint64(3), sdb.GetNonce(addr1))
	assert.Equal(t, uint256.NewInt(1000), sdb.GetBalance(addr1))
	assert.Equal(t, common.HexToHash("0x2a"), sdb.GetState(addr1, common.HexToHash("0x01")))
	assert.Equal(t, common.Hash{}, sdb.GetState(addr2, common.HexToHash("0x01")))
	require.NoError(t, sdb.Error())
}

func TestBalanceJournal(t *testing.T) {
	sdb := newTestState(nil)

	sdb.AddBalance(addr1, uint256.NewInt(100), tracing.BalanceChangeUnspecified)
	snapshot := sdb.Snapshot()
	sdb.AddBalance(addr1, uint256.NewInt(50), tracing.BalanceChangeUnspecified)
	sdb.SubBalance(addr1, uint256.NewInt(30), tracing.BalanceChangeUnspecified)
	assert.Equal(t, uint256.NewInt(120), sdb.GetBalance(addr1))

	sdb.RevertToSnapshot(snapshot)
	assert.Equal(t, uint256.NewInt(100), sdb.GetBalance(addr1))
}

func TestStorageJournal(t *testing.T) {
	sdb := newTestState(nil)
	key := common.HexToHash("0x05")

	sdb.SetState(addr1, key, common.HexToHash("0xaa"))
	snapshot := sdb.Snapshot()
	prev := sdb.SetState(addr1, key, common.HexToHash("0xbb"))
	assert.Equal(t, common.HexToHash("0xaa"), prev)
	assert.Equal(t, common.HexToHash("0xbb"), sdb.GetState(addr1, key))

	sdb.RevertToSnapshot(snapshot)
	assert.Equal(t, common.HexToHash("0xaa"), sdb.GetState(addr1, key))

	// The committed view never saw either write.
	assert.Equal(t, common.Hash{}, sdb.GetCommittedState(addr1, key))
}

func TestNestedSnapshots(t *testing.T) {
	sdb := newTestState(nil)

	sdb.SetNonce(addr1, 1, tracing.NonceChangeUnspecified)
	outer := sdb.Snapshot()
	sdb.SetNonce(addr1, 2, tracing.NonceChangeUnspecified)
	inner := sdb.Snapshot()
	sdb.SetNonce(addr1, 3, tracing.NonceChangeUnspecified)

	sdb.RevertToSnapshot(inner)
	assert.Equal(t, uint64(2), sdb.GetNonce(addr1))
	sdb.RevertToSnapshot(outer)
	assert.Equal(t, uint64(1), sdb.GetNonce(addr1))
}

func TestCreateAccountKeepsBalance(t *testing.T) {
	reader := &stubReader{
		accounts: map[common.Address]*Account{
			addr1: {Nonce: 9, Balance: uint256.NewInt(777), CodeHash: emptyCodeHash},
		},
	}
	sdb := newTestState(reader)

	sdb.CreateAccount(addr1)
	assert.Equal(t, uint64(0), sdb.GetNonce(addr1))
	assert.Equal(t, uint256.NewInt(777), sdb.GetBalance(addr1))
}

func TestSelfDestructJournal(t *testing.T) {
	reader := &stubReader{
		accounts: map[common.Address]*Account{
			addr1: {Balance: uint256.NewInt(55), CodeHash: emptyCodeHash},
		},
	}
	sdb := newTestState(reader)

	snapshot := sdb.Snapshot()
	prev := sdb.SelfDestruct(addr1)
	assert.Equal(t, uint64(55), prev.Uint64())
	assert.True(t, sdb.HasSelfDestructed(addr1))
	assert.True(t, sdb.GetBalance(addr1).IsZero())

	sdb.RevertToSnapshot(snapshot)
	assert.False(t, sdb.HasSelfDestructed(addr1))
	assert.Equal(t, uint256.NewInt(55), sdb.GetBalance(addr1))
}

func TestAccessListJournal(t *testing.T) {
	sdb := newTestState(nil)
	slot := common.HexToHash("0x07")

	snapshot := sdb.Snapshot()
	sdb.AddAddressToAccessList(addr1)
	sdb.AddSlotToAccessList(addr1, slot)

	assert.True(t, sdb.AddressInAccessList(addr1))
	addrOk, slotOk := sdb.SlotInAccessList(addr1, slot)
	assert.True(t, addrOk)
	assert.True(t, slotOk)

	sdb.RevertToSnapshot(snapshot)
	assert.False(t, sdb.AddressInAccessList(addr1))
}

func TestPrepareWarmsTxAccessList(t *testing.T) {
	sdb := newTestState(nil)
	rules := params.Rules{IsBerlin: true, IsShanghai: true}
	coinbase := common.HexToAddress("0x00000000000000000000000000000000000000cb")
	dest := addr2
	slot := common.HexToHash("0x01")

	sdb.Prepare(rules, addr1, coinbase, &dest, nil, types.AccessList{
		{Address: addr1, StorageKeys: []common.Hash{slot}},
	})

	assert.True(t, sdb.AddressInAccessList(addr1))
	assert.True(t, sdb.AddressInAccessList(dest))
	assert.True(t, sdb.AddressInAccessList(coinbase))
	_, slotOk := sdb.SlotInAccessList(addr1, slot)
	assert.True(t, slotOk)
}

func TestTransientStorage(t *testing.T) {
	sdb := newTestState(nil)
	key := common.HexToHash("0x01")

	snapshot := sdb.Snapshot()
	sdb.SetTransientState(addr1, key, common.HexToHash("0xff"))
	assert.Equal(t, common.HexToHash("0xff"), sdb.GetTransientState(addr1, key))

	sdb.RevertToSnapshot(snapshot)
	assert.Equal(t, common.Hash{}, sdb.GetTransientState(addr1, key))
}

func TestRefundJournal(t *testing.T) {
	sdb := newTestState(nil)

	sdb.AddRefund(100)
	snapshot := sdb.Snapshot()
	sdb.AddRefund(20)
	sdb.SubRefund(50)
	assert.Equal(t, uint64(70), sdb.GetRefund())

	sdb.RevertToSnapshot(snapshot)
	assert.Equal(t, uint64(100), sdb.GetRefund())
}

func TestLogsJournal(t *testing.T) {
	sdb := newTestState(nil)

	sdb.AddLog(&types.Log{Address: addr1})
	snapshot := sdb.Snapshot()
	sdb.AddLog(&types.Log{Address: addr2})
	require.Len(t, sdb.GetLogs(), 2)

	sdb.RevertToSnapshot(snapshot)
	require.Len(t, sdb.GetLogs(), 1)
	assert.Equal(t, addr1, sdb.GetLogs()[0].Address)
}

func TestCodeReadsAndWrites(t *testing.T) {
	code := []byte{0x60, 0x00}
	codeHash := common.HexToHash("0xc0de00000000000000000000000000000000000000000000000000000000c0de")
	reader := &stubReader{
		accounts: map[common.Address]*Account{
			addr1: {Balance: uint256.NewInt(1), CodeHash: codeHash},
		},
		code: map[common.Hash][]byte{codeHash: code},
	}
	sdb := newTestState(reader)

	assert.Equal(t, code, sdb.GetCode(addr1))
	assert.Equal(t, 2, sdb.GetCodeSize(addr1))
	assert.Equal(t, codeHash, sdb.GetCodeHash(addr1))

	snapshot := sdb.Snapshot()
	prev := sdb.SetCode(addr1, []byte{0x01}, tracing.CodeChangeUnspecified)
	assert.Equal(t, code, prev)
	assert.Equal(t, []byte{0x01}, sdb.GetCode(addr1))

	sdb.RevertToSnapshot(snapshot)
	assert.Equal(t, code, sdb.GetCode(addr1))
}

func TestResetClearsPerCallState(t *testing.T) {
	sdb := newTestState(nil)
	sdb.AddBalance(addr1, uint256.NewInt(1), tracing.BalanceChangeUnspecified)
	sdb.AddRefund(5)
	sdb.AddLog(&types.Log{})

	sdb.Reset()
	assert.True(t, sdb.GetBalance(addr1).IsZero())
	assert.Equal(t, uint64(0), sdb.GetRefund())
	assert.Empty(t, sdb.GetLogs())
}

func TestAccountRlpRoundTrip(t *testing.T) {
	account := &Account{Nonce: 5, Balance: uint256.NewInt(123456), CodeHash: emptyCodeHash, Incarnation: 2}
	enc, err := EncodeAccount(account)
	require.NoError(t, err)

	decoded, err := DecodeAccount(enc)
	require.NoError(t, err)
	assert.Equal(t, account.Nonce, decoded.Nonce)
	assert.Equal(t, account.Balance, decoded.Balance)
	assert.Equal(t, account.CodeHash, decoded.CodeHash)
	assert.Equal(t, account.Incarnation, decoded.Incarnation)
}
