package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is one undo step; revert must restore the exact prior state.
type journalEntry interface {
	revert(*IntraBlockState)
}

type createObjectChange struct {
	account common.Address
}

func (ch createObjectChange) revert(sdb *IntraBlockState) {
	delete(sdb.stateObjects, ch.account)
	sdb.nilAccounts[ch.account] = struct{}{}
}

type resetObjectChange struct {
	account common.Address
	prev    *stateObject
}

func (ch resetObjectChange) revert(sdb *IntraBlockState) {
	if ch.prev == nil {
		delete(sdb.stateObjects, ch.account)
		sdb.nilAccounts[ch.account] = struct{}{}
		return
	}
	sdb.stateObjects[ch.account] = ch.prev
}

type createContractChange struct {
	account common.Address
}

func (ch createContractChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		obj.newContract = false
		obj.data.Incarnation--
	}
}

type balanceChange struct {
	account common.Address
	prev    uint256.Int
}

func (ch balanceChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		obj.data.Balance = new(uint256.Int).Set(&ch.prev)
	}
}

type nonceChange struct {
	account common.Address
	prev    uint64
}

func (ch nonceChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		obj.data.Nonce = ch.prev
	}
}

type codeChange struct {
	account  common.Address
	prevCode []byte
	prevHash common.Hash
}

func (ch codeChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		obj.code = ch.prevCode
		obj.codeLoaded = true
		obj.dirtyCode = false
		obj.data.CodeHash = ch.prevHash
	}
}

type storageChange struct {
	account common.Address
	key     common.Hash
	prev    common.Hash
	hadPrev bool
}

func (ch storageChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		if ch.hadPrev {
			obj.dirtyStorage[ch.key] = ch.prev
		} else {
			delete(obj.dirtyStorage, ch.key)
		}
	}
}

type transientStorageChange struct {
	account common.Address
	key     common.Hash
	prev    common.Hash
}

func (ch transientStorageChange) revert(sdb *IntraBlockState) {
	sdb.setTransient(ch.account, ch.key, ch.prev)
}

type selfDestructChange struct {
	account     common.Address
	prev        bool
	prevBalance uint256.Int
}

func (ch selfDestructChange) revert(sdb *IntraBlockState) {
	if obj, ok := sdb.stateObjects[ch.account]; ok {
		obj.selfDestructed = ch.prev
		obj.data.Balance = new(uint256.Int).Set(&ch.prevBalance)
	}
}

type refundChange struct {
	prev uint64
}

func (ch refundChange) revert(sdb *IntraBlockState) {
	sdb.refund = ch.prev
}

type addLogChange struct{}

func (ch addLogChange) revert(sdb *IntraBlockState) {
	if n := len(sdb.logs); n > 0 {
		sdb.logs = sdb.logs[:n-1]
		sdb.logSize--
	}
}

type accessListAddAccountChange struct {
	address common.Address
}

func (ch accessListAddAccountChange) revert(sdb *IntraBlockState) {
	sdb.accessList.DeleteAddress(ch.address)
}

type accessListAddSlotChange struct {
	address common.Address
	slot    common.Hash
}

func (ch accessListAddSlotChange) revert(sdb *IntraBlockState) {
	sdb.accessList.DeleteSlot(ch.address, ch.slot)
}

// NewRefundUnderflowError reports a SubRefund below zero.
func NewRefundUnderflowError(gas, refund uint64) error {
	return fmt.Errorf("refund counter below zero (gas: %d > refund: %d)", gas, refund)
}
