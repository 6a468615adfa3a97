package evmexec

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/mechanism-s/silkrpc/chain"
	"github.com/mechanism-s/silkrpc/rawdb"
	"github.com/mechanism-s/silkrpc/state"
)

// Txn carries the fields the executor consumes for pre-checks and dispatch.
// A nil To means contract creation. Unset fee fields read as zero.
type Txn struct {
	From                 common.Address
	To                   *common.Address
	GasLimit             uint64
	GasPrice             *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	Value                *uint256.Int
	Data                 []byte
	AccessList           types.AccessList
}

// FeeCap is the maximum price the sender is willing to pay per gas unit.
func (t *Txn) FeeCap() *uint256.Int {
	if t.MaxFeePerGas != nil {
		return t.MaxFeePerGas
	}
	if t.GasPrice != nil {
		return t.GasPrice
	}
	return new(uint256.Int)
}

// Tip is the priority fee on top of the block base fee.
func (t *Txn) Tip() *uint256.Int {
	if t.MaxPriorityFeePerGas != nil {
		return t.MaxPriorityFeePerGas
	}
	if t.MaxFeePerGas == nil && t.GasPrice != nil {
		return t.GasPrice
	}
	return new(uint256.Int)
}

func (t *Txn) value() *uint256.Int {
	if t.Value != nil {
		return t.Value
	}
	return new(uint256.Int)
}

// CallResult is the outcome of one executor run. ErrorCode is zero on
// success, PreCheckFailed when validation rejected the transaction before
// touching state, otherwise an abort code; Data carries the raw return or
// revert bytes verbatim.
type CallResult struct {
	ErrorCode     int
	PreCheckError string
	GasLeft       uint64
	GasUsed       uint64
	Data          []byte
}

// EVMExecutor runs one transaction at a time against a chain state view
// sourced from the remote snapshot. The synchronous body occupies one CPU
// worker; state reads issued from it round-trip through the transaction
// serializer on the I/O side.
type EVMExecutor struct {
	reader      rawdb.DatabaseReader
	chainConfig *params.ChainConfig
	workers     pond.Pool
	blockNumber uint64

	mu  sync.Mutex // one synchronous body at a time per executor
	ibs *state.IntraBlockState
}

// NewEVMExecutor captures the reader, the immutable chain configuration, a
// worker pool handle and the block number selecting the state view.
func NewEVMExecutor(reader rawdb.DatabaseReader, chainConfig *params.ChainConfig, workers pond.Pool, blockNumber uint64) *EVMExecutor {
	return &EVMExecutor{
		reader:      reader,
		chainConfig: chainConfig,
		workers:     workers,
		blockNumber: blockNumber,
		ibs:         state.New(state.NewRemoteStateReader(reader, blockNumber)),
	}
}

// Reset releases per-call state without destroying the executor. Safe to
// call between successive Calls.
func (e *EVMExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ibs.Reset()
}

type callOutcome struct {
	result CallResult
	err    error
}

// Call dispatches the synchronous body onto the worker pool and awaits its
// outcome. If the waiting caller goes away the worker still runs to
// completion; its result is discarded.
func (e *EVMExecutor) Call(ctx context.Context, block *types.Block, txn *Txn, refund, gasBailout bool, tracers ...*tracing.Hooks) (CallResult, error) {

	var tracer *tracing.Hooks
	for _, t := range tracers {
		if t != nil {
			tracer = t
			break
		}
	}

	outcome := make(chan callOutcome, 1)

	e.workers.Submit(func() {
		result, err := e.callSync(ctx, block, txn, refund, gasBailout, tracer)
		outcome <- callOutcome{result: result, err: err}
	})

	select {
	case out := <-outcome:
		return out.result, out.err
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	}
}

func (e *EVMExecutor) callSync(ctx context.Context, block *types.Block, txn *Txn, refund, gasBailout bool, tracer *tracing.Hooks) (CallResult, error) {

	e.mu.Lock()
	defer e.mu.Unlock()

	header := block.Header()
	rules := e.chainConfig.Rules(header.Number, isPostMerge(header), header.Time)

	ibs := e.ibs
	ibs.Reset()
	ibs.SetContext(ctx)

	// Pre-checks, in fixed order. Failures are values, not errors, and leave
	// state untouched.
	isCreation := txn.To == nil
	intrinsic := IntrinsicGas(txn.Data, txn.AccessList, isCreation, rules)
	if txn.GasLimit < intrinsic {
		return preCheckFailure(fmt.Sprintf("intrinsic gas too low: have %d, want %d", txn.GasLimit, intrinsic)), nil
	}

	feeCap := txn.FeeCap()
	tip := txn.Tip()

	if header.BaseFee != nil {
		baseFee, overflow := uint256.FromBig(header.BaseFee)
		if !overflow && feeCap.Cmp(baseFee) < 0 {
			return preCheckFailure(fmt.Sprintf("fee cap less than block base fee: address %s, gasFeeCap: %s baseFee: %s",
				lowerHex(txn.From), feeCap.Dec(), baseFee.Dec())), nil
		}
	}

	if tip.Cmp(feeCap) > 0 {
		return preCheckFailure(fmt.Sprintf("tip higher than fee cap: address %s, tip: %s gasFeeCap: %s",
			lowerHex(txn.From), tip.Dec(), feeCap.Dec())), nil
	}

	effectivePrice := effectiveGasPrice(header.BaseFee, feeCap, tip)

	value := txn.value()
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(txn.GasLimit), effectivePrice.ToBig())
	required := new(big.Int).Add(gasCost, value.ToBig())

	balance := ibs.GetBalance(txn.From)
	if err := ibs.Error(); err != nil {
		return CallResult{}, err
	}
	if balance.ToBig().Cmp(required) < 0 && !gasBailout {
		return preCheckFailure(fmt.Sprintf("insufficient funds for gas * price + value: address %s have %s want %s",
			lowerHex(txn.From), balance.Dec(), required.String())), nil
	}

	// Execution.
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.getHashFn(ctx),
		Coinbase:    header.Coinbase,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  headerDifficulty(header),
		GasLimit:    header.GasLimit,
		BaseFee:     headerBaseFee(header),
		BlobBaseFee: new(big.Int),
	}
	if isPostMerge(header) {
		random := header.MixDigest
		blockCtx.Random = &random
	}

	evm := vm.NewEVM(blockCtx, ibs, e.chainConfig, vm.Config{Tracer: tracer})
	evm.SetTxContext(vm.TxContext{Origin: txn.From, GasPrice: effectivePrice.ToBig()})

	ibs.Prepare(rules, txn.From, header.Coinbase, txn.To, vm.ActivePrecompiles(rules), txn.AccessList)

	if gasCostU, overflow := uint256.FromBig(gasCost); !overflow {
		if balance.Cmp(new(uint256.Int).Add(gasCostU, value)) >= 0 {
			ibs.SubBalance(txn.From, gasCostU, tracing.BalanceDecreaseGasBuy)
		} else if !gasBailout {
			// Unreachable: the pre-check above rejected this case.
			return CallResult{}, fmt.Errorf("gas purchase after successful pre-check failed")
		}
	}

	gasLeft := txn.GasLimit - intrinsic

	var (
		ret   []byte
		vmErr error
	)
	if isCreation {
		ret, _, gasLeft, vmErr = evm.Create(txn.From, txn.Data, gasLeft, value)
	} else {
		ret, gasLeft, vmErr = evm.Call(txn.From, *txn.To, txn.Data, gasLeft, value)
	}

	if err := ibs.Error(); err != nil {
		return CallResult{}, err
	}

	gasUsed := txn.GasLimit - gasLeft
	if refund && vmErr == nil {
		quotient := params.RefundQuotient
		if rules.IsLondon {
			quotient = params.RefundQuotientEIP3529
		}
		refunded := gasUsed / quotient
		if stateRefund := ibs.GetRefund(); stateRefund < refunded {
			refunded = stateRefund
		}
		gasLeft += refunded
		gasUsed -= refunded
	}

	return CallResult{
		ErrorCode: AbortCodeFromVMError(vmErr),
		GasLeft:   gasLeft,
		GasUsed:   gasUsed,
		Data:      ret,
	}, nil
}

// getHashFn resolves BLOCKHASH lookups through the canonical-hash table.
func (e *EVMExecutor) getHashFn(ctx context.Context) vm.GetHashFunc {
	return func(number uint64) common.Hash {
		hash, err := chain.ReadCanonicalHash(ctx, e.reader, number)
		if err != nil {
			return common.Hash{}
		}
		return hash
	}
}

func preCheckFailure(msg string) CallResult {
	return CallResult{ErrorCode: PreCheckFailed, PreCheckError: msg}
}

// effectiveGasPrice is min(feeCap, baseFee+tip) under EIP-1559, the fee cap
// itself on pre-1559 blocks.
func effectiveGasPrice(baseFee *big.Int, feeCap, tip *uint256.Int) *uint256.Int {
	if baseFee == nil {
		return feeCap
	}
	base, overflow := uint256.FromBig(baseFee)
	if overflow {
		return feeCap
	}
	price := new(uint256.Int).Add(base, tip)
	if price.Cmp(feeCap) > 0 {
		return feeCap
	}
	return price
}

func isPostMerge(header *types.Header) bool {
	return header.Difficulty == nil || header.Difficulty.Sign() == 0
}

func headerDifficulty(header *types.Header) *big.Int {
	if header.Difficulty == nil {
		return new(big.Int)
	}
	return header.Difficulty
}

func headerBaseFee(header *types.Header) *big.Int {
	if header.BaseFee == nil {
		return new(big.Int)
	}
	return header.BaseFee
}

func lowerHex(address common.Address) string {
	return fmt.Sprintf("0x%x", address.Bytes())
}
