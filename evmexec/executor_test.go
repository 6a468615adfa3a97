package evmexec

import (
	"context"
	"math/big"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechanism-s/silkrpc/rawdb"
)

// stubDatabase answers every read with emptiness: no accounts, no code, no
// storage.
type stubDatabase struct{}

func (stubDatabase) Get(ctx context.Context, table string, key []byte) (rawdb.KeyValue, error) {
	return rawdb.KeyValue{}, nil
}

func (stubDatabase) GetOne(ctx context.Context, table string, key []byte) ([]byte, error) {
	return nil, nil
}

func (stubDatabase) GetBothRange(ctx context.Context, table string, key, subkey []byte) ([]byte, error) {
	return nil, nil
}

func (stubDatabase) Walk(ctx context.Context, table string, startKey []byte, fixedBits uint32, walker rawdb.Walker) error {
	return nil
}

func (stubDatabase) ForPrefix(ctx context.Context, table string, prefix []byte, walker rawdb.Walker) error {
	return nil
}

var testFrom = common.HexToAddress("0xa872626373628737383927236382161739290870")

func newTestExecutor(t *testing.T, blockNumber uint64) *EVMExecutor {
	t.Helper()
	workers := pond.NewPool(1)
	t.Cleanup(func() { workers.StopAndWait() })
	return NewEVMExecutor(stubDatabase{}, params.SepoliaChainConfig, workers, blockNumber)
}

func blockWithHeader(header *types.Header) *types.Block {
	return types.NewBlockWithHeader(header)
}

func TestCallFailsWhenGasLimitBelowIntrinsic(t *testing.T) {
	executor := newTestExecutor(t, 10_000)
	block := blockWithHeader(&types.Header{Number: big.NewInt(10_000)})
	txn := &Txn{From: testFrom}

	result, err := executor.Call(context.Background(), block, txn, true, false)
	require.NoError(t, err)
	assert.Equal(t, PreCheckFailed, result.ErrorCode)
	assert.Equal(t, "intrinsic gas too low: have 0, want 53000", result.PreCheckError)
}

func TestCallFailsWhenFeeCapBelowBaseFee(t *testing.T) {
	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{
		Number:  big.NewInt(6_000_000),
		BaseFee: big.NewInt(7),
	})
	txn := &Txn{
		From:         testFrom,
		GasLimit:     60_000,
		MaxFeePerGas: uint256.NewInt(2),
	}

	result, err := executor.Call(context.Background(), block, txn, true, false)
	require.NoError(t, err)
	assert.Equal(t, PreCheckFailed, result.ErrorCode)
	assert.Equal(t,
		"fee cap less than block base fee: address 0xa872626373628737383927236382161739290870, gasFeeCap: 2 baseFee: 7",
		result.PreCheckError)
}

func TestCallFailsWhenTipAboveFeeCap(t *testing.T) {
	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{
		Number:  big.NewInt(6_000_000),
		BaseFee: big.NewInt(1),
	})
	txn := &Txn{
		From:                 testFrom,
		GasLimit:             60_000,
		MaxFeePerGas:         uint256.NewInt(2),
		MaxPriorityFeePerGas: uint256.NewInt(0x18),
	}

	result, err := executor.Call(context.Background(), block, txn, true, false)
	require.NoError(t, err)
	assert.Equal(t, PreCheckFailed, result.ErrorCode)
	assert.Equal(t,
		"tip higher than fee cap: address 0xa872626373628737383927236382161739290870, tip: 24 gasFeeCap: 2",
		result.PreCheckError)
}

func TestCallFailsWhenBalanceBelowCost(t *testing.T) {
	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{
		Number:  big.NewInt(6_000_000),
		BaseFee: big.NewInt(1),
	})
	txn := &Txn{
		From:         testFrom,
		GasLimit:     60_000,
		MaxFeePerGas: uint256.NewInt(2),
	}

	result, err := executor.Call(context.Background(), block, txn, true, false)
	require.NoError(t, err)
	assert.Equal(t, PreCheckFailed, result.ErrorCode)
	assert.Equal(t,
		"insufficient funds for gas * price + value: address 0xa872626373628737383927236382161739290870 have 0 want 60000",
		result.PreCheckError)
}

func TestCallSucceedsWithGasBailout(t *testing.T) {
	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{
		Number:  big.NewInt(6_000_000),
		BaseFee: big.NewInt(1),
	})
	txn := &Txn{
		From:         testFrom,
		GasLimit:     60_000,
		MaxFeePerGas: uint256.NewInt(2),
	}

	result, err := executor.Call(context.Background(), block, txn, false, true)
	require.NoError(t, err)
	assert.Equal(t, Success, result.ErrorCode)
	executor.Reset()
}

func TestCallSucceedsWithAccessList(t *testing.T) {
	accessList := types.AccessList{
		{
			Address: common.HexToAddress("0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"),
			StorageKeys: []common.Hash{
				common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000003"),
				common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000007"),
			},
		},
		{Address: common.HexToAddress("0xbb9bc244d798123fde783fcc1c72d3bb8c189413")},
	}

	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{Number: big.NewInt(6_000_000)})
	txn := &Txn{
		From:       testFrom,
		GasLimit:   600_000,
		AccessList: accessList,
	}

	result, err := executor.Call(context.Background(), block, txn, true, true)
	require.NoError(t, err)
	assert.Equal(t, Success, result.ErrorCode)
	assert.LessOrEqual(t, result.GasLeft, uint64(600_000))
}

func TestCallValueTransfer(t *testing.T) {
	// A zero-value call to an account without code, at zero gas price, uses
	// exactly the intrinsic cost.
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	executor := newTestExecutor(t, 6_000_000)
	block := blockWithHeader(&types.Header{Number: big.NewInt(6_000_000)})
	txn := &Txn{
		From:     testFrom,
		To:       &to,
		GasLimit: 30_000,
		Value:    uint256.NewInt(0),
	}

	result, err := executor.Call(context.Background(), block, txn, true, false)
	require.NoError(t, err)
	assert.Equal(t, Success, result.ErrorCode)
	assert.Equal(t, uint64(21_000), result.GasUsed)
	assert.Equal(t, uint64(9_000), result.GasLeft)
}

func TestIntrinsicGasTable(t *testing.T) {
	rules := params.SepoliaChainConfig.Rules(big.NewInt(6_000_000), true, 0)

	assert.Equal(t, uint64(21_000), IntrinsicGas(nil, nil, false, rules))
	assert.Equal(t, uint64(53_000), IntrinsicGas(nil, nil, true, rules))
	// 1 non-zero byte (16) + 2 zero bytes (2*4).
	assert.Equal(t, uint64(21_024), IntrinsicGas([]byte{0x01, 0x00, 0x00}, nil, false, rules))
	// One address (2400) and one storage key (1900).
	al := types.AccessList{{Address: testFrom, StorageKeys: []common.Hash{{}}}}
	assert.Equal(t, uint64(21_000+2400+1900), IntrinsicGas(nil, al, false, rules))
}
