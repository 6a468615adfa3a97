package evmexec

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// IntrinsicGas is the minimum gas a transaction pays before any execution,
// derived from call data, access list sizes, the creation flag and the
// active revisions.
func IntrinsicGas(data []byte, accessList types.AccessList, isCreation bool, rules params.Rules) uint64 {
	gas := params.TxGas
	if isCreation && rules.IsHomestead {
		gas = params.TxGasContractCreation
	}

	if len(data) > 0 {
		nonZeroGas := params.TxDataNonZeroGasFrontier
		if rules.IsIstanbul {
			nonZeroGas = params.TxDataNonZeroGasEIP2028
		}
		var nonZero uint64
		for _, b := range data {
			if b != 0 {
				nonZero++
			}
		}
		gas += nonZero * nonZeroGas
		gas += (uint64(len(data)) - nonZero) * params.TxDataZeroGas

		if isCreation && rules.IsShanghai {
			words := (uint64(len(data)) + 31) / 32
			gas += words * params.InitCodeWordGas
		}
	}

	if len(accessList) > 0 {
		gas += uint64(len(accessList)) * params.TxAccessListAddressGas
		gas += uint64(accessList.StorageKeys()) * params.TxAccessListStorageKeyGas
	}

	return gas
}
