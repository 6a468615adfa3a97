package state

import "github.com/ethereum/go-ethereum/common"

// accessList tracks the warm addresses and storage slots of the current
// transaction (EIP-2929/2930 semantics).
type accessList struct {
	addresses map[common.Address]int
	slots     []map[common.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{addresses: map[common.Address]int{}}
}

func (al *accessList) ContainsAddress(address common.Address) bool {
	_, ok := al.addresses[address]
	return ok
}

func (al *accessList) Contains(address common.Address, slot common.Hash) (addressPresent bool, slotPresent bool) {
	idx, ok := al.addresses[address]
	if !ok {
		return false, false
	}
	if idx == -1 {
		return true, false
	}
	_, slotPresent = al.slots[idx][slot]
	return true, slotPresent
}

// AddAddress reports whether the address was newly added.
func (al *accessList) AddAddress(address common.Address) bool {
	if _, present := al.addresses[address]; present {
		return false
	}
	al.addresses[address] = -1
	return true
}

// AddSlot warms up (address, slot). AddSlotPair does the same and reports
// what was newly added.
func (al *accessList) AddSlot(address common.Address, slot common.Hash) {
	al.AddSlotPair(address, slot)
}

func (al *accessList) AddSlotPair(address common.Address, slot common.Hash) (addrAdded, slotAdded bool) {
	idx, addrPresent := al.addresses[address]
	if !addrPresent || idx == -1 {
		al.addresses[address] = len(al.slots)
		al.slots = append(al.slots, map[common.Hash]struct{}{slot: {}})
		return !addrPresent, true
	}
	if _, present := al.slots[idx][slot]; present {
		return false, false
	}
	al.slots[idx][slot] = struct{}{}
	return false, true
}

// DeleteAddress unwinds an AddAddress. Only valid as the inverse of the most
// recent journalled addition.
func (al *accessList) DeleteAddress(address common.Address) {
	delete(al.addresses, address)
}

// DeleteSlot unwinds an AddSlotPair slot addition.
func (al *accessList) DeleteSlot(address common.Address, slot common.Hash) {
	idx, ok := al.addresses[address]
	if !ok || idx == -1 {
		return
	}
	delete(al.slots[idx], slot)
	if len(al.slots[idx]) == 0 && idx == len(al.slots)-1 {
		al.slots = al.slots[:idx]
		al.addresses[address] = -1
	}
}
