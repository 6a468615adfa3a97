package evmrpc

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/mechanism-s/silkrpc/chain"
	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/evmexec"
	"github.com/mechanism-s/silkrpc/rawdb"
	"github.com/mechanism-s/silkrpc/state"
)

const maxGasCap = 50_000_000

func Handle(req Request) []byte {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return ErrorResponse(req.ID, -32600, "Invalid Request")
	}
	switch req.Method {
	case "web3_clientVersion":
		return ResultResponse(req.ID, constants.ClientVersion)
	case "web3_sha3":
		return handleWeb3Sha3(req)
	case "net_version":
		return ResultResponse(req.ID, backend.ChainConfig.ChainID.String())
	case "eth_chainId":
		return ResultResponse(req.ID, hexutil.EncodeBig(backend.ChainConfig.ChainID))
	case "eth_blockNumber":
		return handleBlockNumber(req)
	case "eth_syncing":
		return handleSyncing(req)
	case "eth_getBlockByNumber":
		return handleGetBlockByNumber(req)
	case "eth_getBlockByHash":
		return handleGetBlockByHash(req)
	case "eth_getBlockTransactionCountByNumber":
		return handleGetBlockTxCountByNumber(req)
	case "eth_getBlockTransactionCountByHash":
		return handleGetBlockTxCountByHash(req)
	case "eth_getTransactionByHash":
		return handleGetTransactionByHash(req)
	case "eth_getBalance":
		return handleGetBalance(req)
	case "eth_getTransactionCount":
		return handleGetTransactionCount(req)
	case "eth_getCode":
		return handleGetCode(req)
	case "eth_getStorageAt":
		return handleGetStorageAt(req)
	case "eth_call":
		return handleEthCall(req)
	case "eth_estimateGas":
		return handleEstimateGas(req)
	case "eth_gasPrice":
		return ResultResponse(req.ID, "0x0")
	case "eth_accounts":
		return ResultResponse(req.ID, []any{})
	case "eth_mining":
		return ResultResponse(req.ID, false)
	default:
		return ErrorResponse(req.ID, -32601, "Method not found")
	}
}

func handleWeb3Sha3(req Request) []byte {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	input, err := hexutil.Decode(params[0])
	if err != nil {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	return ResultResponse(req.ID, hexutil.Encode(crypto.Keccak256(input)))
}

func handleBlockNumber(req Request) []byte {
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := chain.GetLatestBlockNumber(ctx, reader)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		return ResultResponse(req.ID, hexutil.Uint64(number))
	})
}

func handleSyncing(req Request) []byte {
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		highest, err := chain.GetHighestBlockNumber(ctx, reader)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		current, err := chain.GetCurrentBlockNumber(ctx, reader)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		if current >= highest {
			return ResultResponse(req.ID, false)
		}
		return ResultResponse(req.ID, map[string]any{
			"startingBlock": "0x0",
			"currentBlock":  hexutil.Uint64(current),
			"highestBlock":  hexutil.Uint64(highest),
		})
	})
}

func handleGetBlockByNumber(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	tag, _ := params[0].(string)
	fullTx := false
	if len(params) > 1 {
		if b, ok := params[1].(bool); ok {
			fullTx = b
		}
	}
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := chain.GetBlockNumber(ctx, tag, reader)
		if err != nil {
			return ErrorResponse(req.ID, -32602, "Invalid params")
		}
		block, err := chain.ReadBlockByNumber(ctx, backend.Cache, reader, number)
		if err != nil {
			return ResultResponse(req.ID, nil)
		}
		return ResultResponse(req.ID, renderBlock(block, fullTx))
	})
}

func handleGetBlockByHash(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	hashStr, _ := params[0].(string)
	fullTx := false
	if len(params) > 1 {
		if b, ok := params[1].(bool); ok {
			fullTx = b
		}
	}
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		block, err := chain.ReadBlockByHash(ctx, backend.Cache, reader, common.HexToHash(hashStr))
		if err != nil {
			return ResultResponse(req.ID, nil)
		}
		return ResultResponse(req.ID, renderBlock(block, fullTx))
	})
}

func handleGetBlockTxCountByNumber(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	tag, _ := params[0].(string)
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := chain.GetBlockNumber(ctx, tag, reader)
		if err != nil {
			return ErrorResponse(req.ID, -32602, "Invalid params")
		}
		block, err := chain.ReadBlockByNumber(ctx, backend.Cache, reader, number)
		if err != nil {
			return ResultResponse(req.ID, nil)
		}
		return ResultResponse(req.ID, hexutil.Uint64(uint64(len(block.Transactions()))))
	})
}

func handleGetBlockTxCountByHash(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	hashStr, _ := params[0].(string)
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		block, err := chain.ReadBlockByHash(ctx, backend.Cache, reader, common.HexToHash(hashStr))
		if err != nil {
			return ResultResponse(req.ID, nil)
		}
		return ResultResponse(req.ID, hexutil.Uint64(uint64(len(block.Transactions()))))
	})
}

func handleGetTransactionByHash(req Request) []byte {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		twb, err := chain.ReadTransactionByHash(ctx, backend.Cache, reader, common.HexToHash(params[0]))
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		if twb == nil {
			return ResultResponse(req.ID, nil)
		}
		return ResultResponse(req.ID, renderTransaction(twb))
	})
}

func handleGetBalance(req Request) []byte {
	return handleAccountField(req, func(ctx context.Context, account *state.Account) any {
		if account == nil {
			return "0x0"
		}
		return hexutil.EncodeBig(account.Balance.ToBig())
	})
}

func handleGetTransactionCount(req Request) []byte {
	return handleAccountField(req, func(ctx context.Context, account *state.Account) any {
		if account == nil {
			return "0x0"
		}
		return hexutil.Uint64(account.Nonce)
	})
}

func handleAccountField(req Request, render func(context.Context, *state.Account) any) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	addrStr, _ := params[0].(string)
	address := common.HexToAddress(addrStr)
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := resolveBlockParam(ctx, reader, params, 1)
		if err != nil {
			return ErrorResponse(req.ID, -32602, "Invalid params")
		}
		stateReader := state.NewRemoteStateReader(reader, number)
		account, err := stateReader.ReadAccountData(ctx, address)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		return ResultResponse(req.ID, render(ctx, account))
	})
}

func handleGetCode(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	addrStr, _ := params[0].(string)
	address := common.HexToAddress(addrStr)
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := resolveBlockParam(ctx, reader, params, 1)
		if err != nil {
			return ErrorResponse(req.ID, -32602, "Invalid params")
		}
		stateReader := state.NewRemoteStateReader(reader, number)
		account, err := stateReader.ReadAccountData(ctx, address)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		if account == nil {
			return ResultResponse(req.ID, "0x")
		}
		code, err := stateReader.ReadAccountCode(ctx, account.CodeHash)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		return ResultResponse(req.ID, hexutil.Encode(code))
	})
}

func handleGetStorageAt(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 2 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	addrStr, _ := params[0].(string)
	slotStr, _ := params[1].(string)
	address := common.HexToAddress(addrStr)
	location := common.HexToHash(slotStr)
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		number, err := resolveBlockParam(ctx, reader, params, 2)
		if err != nil {
			return ErrorResponse(req.ID, -32602, "Invalid params")
		}
		stateReader := state.NewRemoteStateReader(reader, number)
		account, err := stateReader.ReadAccountData(ctx, address)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		if account == nil {
			return ResultResponse(req.ID, (common.Hash{}).Hex())
		}
		value, err := stateReader.ReadAccountStorage(ctx, address, account.Incarnation, location)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		return ResultResponse(req.ID, common.Hash(value.Bytes32()).Hex())
	})
}

func handleEthCall(req Request) []byte {
	var params []any
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	txn, ok := parseCallObject(params[0])
	if !ok {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		block, err := readBlockParam(ctx, reader, params, 1)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		executor := evmexec.NewEVMExecutor(reader, backend.ChainConfig, backend.Workers, block.NumberU64())
		result, err := executor.Call(ctx, block, txn, true, false)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		switch result.ErrorCode {
		case evmexec.Success:
			return ResultResponse(req.ID, hexutil.Encode(result.Data))
		case evmexec.PreCheckFailed:
			return ErrorResponse(req.ID, -32000, result.PreCheckError)
		default:
			message := evmexec.GetErrorMessage(result.ErrorCode, result.Data, true)
			return RevertErrorResponse(req.ID, -32000, message, hexutil.Encode(result.Data))
		}
	})
}

func handleEstimateGas(req Request) []byte {
	var reqParams []any
	if err := json.Unmarshal(req.Params, &reqParams); err != nil || len(reqParams) < 1 {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	txn, ok := parseCallObject(reqParams[0])
	if !ok {
		return ErrorResponse(req.ID, -32602, "Invalid params")
	}
	return withReader(req.ID, func(ctx context.Context, reader rawdb.DatabaseReader) []byte {
		block, err := readBlockParam(ctx, reader, reqParams, 1)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}

		hi := uint64(maxGasCap)
		if txn.GasLimit > 0 && txn.GasLimit < hi {
			hi = txn.GasLimit
		}
		// One below the intrinsic floor, so the floor itself gets probed.
		lo := params.TxGas - 1
		if hi < params.TxGas {
			hi = params.TxGas
		}

		executor := evmexec.NewEVMExecutor(reader, backend.ChainConfig, backend.Workers, block.NumberU64())

		run := func(gas uint64) (evmexec.CallResult, error) {
			probe := *txn
			probe.GasLimit = gas
			return executor.Call(ctx, block, &probe, true, true)
		}

		// The call must succeed at the upper bound at all.
		result, err := run(hi)
		if err != nil {
			return ErrorResponse(req.ID, -32000, err.Error())
		}
		if result.ErrorCode == evmexec.PreCheckFailed {
			return ErrorResponse(req.ID, -32000, result.PreCheckError)
		}
		if result.ErrorCode != evmexec.Success {
			message := evmexec.GetErrorMessage(result.ErrorCode, result.Data, true)
			return RevertErrorResponse(req.ID, -32000, message, hexutil.Encode(result.Data))
		}

		// Binary search for the smallest gas limit that still succeeds.
		for lo+1 < hi {
			mid := lo + (hi-lo)/2
			result, err := run(mid)
			if err != nil {
				return ErrorResponse(req.ID, -32000, err.Error())
			}
			if result.ErrorCode == evmexec.Success {
				hi = mid
			} else {
				lo = mid
			}
		}
		return ResultResponse(req.ID, hexutil.Uint64(hi))
	})
}

// ---- parsing and rendering helpers ----

func resolveBlockParam(ctx context.Context, reader rawdb.DatabaseReader, params []any, idx int) (uint64, error) {
	tag := constants.LatestBlockId
	if len(params) > idx {
		if s, ok := params[idx].(string); ok && s != "" {
			tag = s
		}
	}
	return chain.GetBlockNumber(ctx, tag, reader)
}

func readBlockParam(ctx context.Context, reader rawdb.DatabaseReader, params []any, idx int) (*types.Block, error) {
	tag := constants.LatestBlockId
	if len(params) > idx {
		if s, ok := params[idx].(string); ok && s != "" {
			tag = s
		}
	}
	return chain.ReadBlockByNumberOrHash(ctx, backend.Cache, reader, tag)
}

func parseCallObject(param any) (*evmexec.Txn, bool) {
	callObj, ok := param.(map[string]any)
	if !ok {
		return nil, false
	}
	txn := &evmexec.Txn{}
	if s, ok := callObj["from"].(string); ok && s != "" {
		txn.From = common.HexToAddress(s)
	}
	if s, ok := callObj["to"].(string); ok && s != "" {
		to := common.HexToAddress(s)
		txn.To = &to
	}
	if gas, ok := parseQuantity(callObj["gas"]); ok {
		txn.GasLimit = gas.Uint64()
	}
	if v, ok := parseQuantity(callObj["gasPrice"]); ok {
		txn.GasPrice = v
	}
	if v, ok := parseQuantity(callObj["maxFeePerGas"]); ok {
		txn.MaxFeePerGas = v
	}
	if v, ok := parseQuantity(callObj["maxPriorityFeePerGas"]); ok {
		txn.MaxPriorityFeePerGas = v
	}
	if v, ok := parseQuantity(callObj["value"]); ok {
		txn.Value = v
	}
	dataStr, _ := callObj["data"].(string)
	if dataStr == "" {
		dataStr, _ = callObj["input"].(string)
	}
	if dataStr != "" {
		data, err := hexutil.Decode(dataStr)
		if err != nil {
			return nil, false
		}
		txn.Data = data
	}
	return txn, true
}

func parseQuantity(v any) (*uint256.Int, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		value, err := uint256.FromHex(s)
		if err != nil {
			return nil, false
		}
		return value, true
	}
	value, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, false
	}
	return value, true
}

func renderBlock(block *types.Block, fullTx bool) map[string]any {
	header := block.Header()
	out := map[string]any{
		"number":           hexutil.EncodeBig(header.Number),
		"hash":             block.Hash().Hex(),
		"parentHash":       header.ParentHash.Hex(),
		"nonce":            hexutil.Encode(header.Nonce[:]),
		"sha3Uncles":       header.UncleHash.Hex(),
		"stateRoot":        header.Root.Hex(),
		"transactionsRoot": header.TxHash.Hex(),
		"receiptsRoot":     header.ReceiptHash.Hex(),
		"miner":            header.Coinbase.Hex(),
		"difficulty":       hexutil.EncodeBig(headerBig(header.Difficulty)),
		"extraData":        hexutil.Encode(header.Extra),
		"size":             hexutil.Uint64(block.Size()),
		"gasLimit":         hexutil.Uint64(header.GasLimit),
		"gasUsed":          hexutil.Uint64(header.GasUsed),
		"timestamp":        hexutil.Uint64(header.Time),
		"uncles":           []any{},
	}
	if header.BaseFee != nil {
		out["baseFeePerGas"] = hexutil.EncodeBig(header.BaseFee)
	}
	txs := block.Transactions()
	if fullTx {
		rendered := make([]any, 0, len(txs))
		for i, tx := range txs {
			rendered = append(rendered, renderTransaction(&chain.TransactionWithBlock{
				Tx:        tx,
				BlockHash: block.Hash(),
				BlockNum:  block.NumberU64(),
				Index:     uint64(i),
			}))
		}
		out["transactions"] = rendered
	} else {
		hashes := make([]any, 0, len(txs))
		for _, tx := range txs {
			hashes = append(hashes, tx.Hash().Hex())
		}
		out["transactions"] = hashes
	}
	return out
}

func renderTransaction(twb *chain.TransactionWithBlock) map[string]any {
	tx := twb.Tx
	out := map[string]any{
		"hash":             tx.Hash().Hex(),
		"blockHash":        twb.BlockHash.Hex(),
		"blockNumber":      hexutil.Uint64(twb.BlockNum),
		"transactionIndex": hexutil.Uint64(twb.Index),
		"nonce":            hexutil.Uint64(tx.Nonce()),
		"gas":              hexutil.Uint64(tx.Gas()),
		"gasPrice":         hexutil.EncodeBig(tx.GasPrice()),
		"value":            hexutil.EncodeBig(tx.Value()),
		"input":            hexutil.Encode(tx.Data()),
		"type":             hexutil.Uint64(tx.Type()),
	}
	if to := tx.To(); to != nil {
		out["to"] = to.Hex()
	} else {
		out["to"] = nil
	}
	return out
}

func headerBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
