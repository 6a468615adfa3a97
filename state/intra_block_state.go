package state

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

var _ vm.StateDB = (*IntraBlockState)(nil) // compile-time interface check

// IntraBlockState caches and journals the state changes made while executing
// a call against a remote snapshot. Reads miss into the StateReader; the
// interpreter never sees a database error — the first one is memoized and
// surfaced through Error() after the run.
//
// NOT THREAD SAFE: one IntraBlockState serves one call on one worker.
type IntraBlockState struct {
	reader StateReader
	ctx    context.Context

	stateObjects map[common.Address]*stateObject
	nilAccounts  map[common.Address]struct{} // remember non-existent accounts

	savedErr error

	refund  uint64
	logs    []*types.Log
	logSize uint

	accessList       *accessList
	transientStorage map[common.Address]map[common.Hash]common.Hash

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int

	pointCache *utils.PointCache
}

type revision struct {
	id           int
	journalIndex int
}

type stateObject struct {
	address        common.Address
	data           Account
	original       Account // as loaded from the reader
	code           []byte
	codeLoaded     bool
	dirtyCode      bool
	originStorage  map[common.Hash]common.Hash
	dirtyStorage   map[common.Hash]common.Hash
	selfDestructed bool
	newContract    bool
	exists         bool // backed by a record in the snapshot or created here
}

func New(reader StateReader) *IntraBlockState {
	return &IntraBlockState{
		reader:           reader,
		ctx:              context.Background(),
		stateObjects:     map[common.Address]*stateObject{},
		nilAccounts:      map[common.Address]struct{}{},
		accessList:       newAccessList(),
		transientStorage: map[common.Address]map[common.Hash]common.Hash{},
	}
}

// SetContext installs the context state reads round-trip under. The executor
// sets it once per call before handing the state to the interpreter.
func (sdb *IntraBlockState) SetContext(ctx context.Context) {
	sdb.ctx = ctx
}

// Error returns the first database error seen during execution, if any.
func (sdb *IntraBlockState) Error() error {
	return sdb.savedErr
}

func (sdb *IntraBlockState) setError(err error) {
	if sdb.savedErr == nil {
		sdb.savedErr = err
	}
}

// Reset drops every per-call buffer while keeping the reader.
func (sdb *IntraBlockState) Reset() {
	sdb.stateObjects = map[common.Address]*stateObject{}
	sdb.nilAccounts = map[common.Address]struct{}{}
	sdb.savedErr = nil
	sdb.refund = 0
	sdb.logs = nil
	sdb.logSize = 0
	sdb.accessList = newAccessList()
	sdb.transientStorage = map[common.Address]map[common.Hash]common.Hash{}
	sdb.journal = sdb.journal[:0]
	sdb.validRevisions = sdb.validRevisions[:0]
	sdb.nextRevisionID = 0
}

// ---- object resolution ----

func (sdb *IntraBlockState) getStateObject(addr common.Address) *stateObject {
	if obj, ok := sdb.stateObjects[addr]; ok {
		return obj
	}
	if _, ok := sdb.nilAccounts[addr]; ok {
		return nil
	}
	account, err := sdb.reader.ReadAccountData(sdb.ctx, addr)
	if err != nil {
		sdb.setError(err)
		sdb.nilAccounts[addr] = struct{}{}
		return nil
	}
	if account == nil {
		sdb.nilAccounts[addr] = struct{}{}
		return nil
	}
	obj := newStateObject(addr, *account, true)
	sdb.stateObjects[addr] = obj
	return obj
}

func (sdb *IntraBlockState) getOrNewStateObject(addr common.Address) *stateObject {
	if obj := sdb.getStateObject(addr); obj != nil {
		return obj
	}
	obj := newStateObject(addr, *NewEmptyAccount(), false)
	sdb.stateObjects[addr] = obj
	delete(sdb.nilAccounts, addr)
	sdb.appendJournal(createObjectChange{account: addr})
	return obj
}

func newStateObject(addr common.Address, data Account, exists bool) *stateObject {
	if data.Balance == nil {
		data.Balance = new(uint256.Int)
	}
	original := data
	original.Balance = new(uint256.Int).Set(data.Balance)
	data.Balance = new(uint256.Int).Set(data.Balance)
	return &stateObject{
		address:       addr,
		data:          data,
		original:      original,
		exists:        exists,
		originStorage: map[common.Hash]common.Hash{},
		dirtyStorage:  map[common.Hash]common.Hash{},
	}
}

func (so *stateObject) empty() bool {
	return so.data.Nonce == 0 && so.data.Balance.IsZero() &&
		(so.data.CodeHash == emptyCodeHash || so.data.CodeHash == common.Hash{})
}

// ---- accounts ----

func (sdb *IntraBlockState) CreateAccount(addr common.Address) {
	prev := sdb.getStateObject(addr)
	obj := newStateObject(addr, *NewEmptyAccount(), true)
	if prev != nil {
		// Balance survives account resets.
		obj.data.Balance.Set(prev.data.Balance)
		obj.original = prev.original
	}
	sdb.appendJournal(resetObjectChange{account: addr, prev: prev})
	sdb.stateObjects[addr] = obj
	delete(sdb.nilAccounts, addr)
}

func (sdb *IntraBlockState) CreateContract(addr common.Address) {
	obj := sdb.getOrNewStateObject(addr)
	if !obj.newContract {
		obj.newContract = true
		obj.data.Incarnation++
		sdb.appendJournal(createContractChange{account: addr})
	}
}

func (sdb *IntraBlockState) Exist(addr common.Address) bool {
	return sdb.getStateObject(addr) != nil
}

func (sdb *IntraBlockState) Empty(addr common.Address) bool {
	obj := sdb.getStateObject(addr)
	return obj == nil || obj.empty()
}

// ---- balance ----

func (sdb *IntraBlockState) GetBalance(addr common.Address) *uint256.Int {
	if obj := sdb.getStateObject(addr); obj != nil {
		return obj.data.Balance
	}
	return uint256.NewInt(0)
}

func (sdb *IntraBlockState) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	obj := sdb.getOrNewStateObject(addr)
	prev := *obj.data.Balance
	sdb.appendJournal(balanceChange{account: addr, prev: prev})
	obj.data.Balance = new(uint256.Int).Add(obj.data.Balance, amount)
	return prev
}

func (sdb *IntraBlockState) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	obj := sdb.getOrNewStateObject(addr)
	prev := *obj.data.Balance
	sdb.appendJournal(balanceChange{account: addr, prev: prev})
	obj.data.Balance = new(uint256.Int).Sub(obj.data.Balance, amount)
	return prev
}

func (sdb *IntraBlockState) SetBalance(addr common.Address, amount *uint256.Int) {
	obj := sdb.getOrNewStateObject(addr)
	sdb.appendJournal(balanceChange{account: addr, prev: *obj.data.Balance})
	obj.data.Balance = new(uint256.Int).Set(amount)
}

// ---- nonce ----

func (sdb *IntraBlockState) GetNonce(addr common.Address) uint64 {
	if obj := sdb.getStateObject(addr); obj != nil {
		return obj.data.Nonce
	}
	return 0
}

func (sdb *IntraBlockState) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	obj := sdb.getOrNewStateObject(addr)
	sdb.appendJournal(nonceChange{account: addr, prev: obj.data.Nonce})
	obj.data.Nonce = nonce
}

// ---- code ----

func (sdb *IntraBlockState) GetCodeHash(addr common.Address) common.Hash {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return common.Hash{}
	}
	if obj.data.CodeHash == (common.Hash{}) {
		return emptyCodeHash
	}
	return obj.data.CodeHash
}

func (sdb *IntraBlockState) GetCode(addr common.Address) []byte {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return nil
	}
	return sdb.loadCode(obj)
}

func (sdb *IntraBlockState) GetCodeSize(addr common.Address) int {
	return len(sdb.GetCode(addr))
}

func (sdb *IntraBlockState) SetCode(addr common.Address, code []byte, _ tracing.CodeChangeReason) []byte {
	obj := sdb.getOrNewStateObject(addr)
	prev := sdb.loadCode(obj)
	sdb.appendJournal(codeChange{account: addr, prevCode: prev, prevHash: obj.data.CodeHash})
	obj.code = code
	obj.codeLoaded = true
	obj.dirtyCode = true
	obj.data.CodeHash = crypto.Keccak256Hash(code)
	return prev
}

func (sdb *IntraBlockState) loadCode(obj *stateObject) []byte {
	if obj.codeLoaded {
		return obj.code
	}
	code, err := sdb.reader.ReadAccountCode(sdb.ctx, obj.data.CodeHash)
	if err != nil {
		sdb.setError(err)
	}
	obj.code = code
	obj.codeLoaded = true
	return code
}

// ---- storage ----

func (sdb *IntraBlockState) GetState(addr common.Address, key common.Hash) common.Hash {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return common.Hash{}
	}
	if value, dirty := obj.dirtyStorage[key]; dirty {
		return value
	}
	return sdb.committedState(obj, key)
}

func (sdb *IntraBlockState) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return common.Hash{}
	}
	return sdb.committedState(obj, key)
}

func (sdb *IntraBlockState) GetStateAndCommittedState(addr common.Address, key common.Hash) (common.Hash, common.Hash) {
	return sdb.GetState(addr, key), sdb.GetCommittedState(addr, key)
}

func (sdb *IntraBlockState) committedState(obj *stateObject, key common.Hash) common.Hash {
	if value, cached := obj.originStorage[key]; cached {
		return value
	}
	// Storage of a contract created in this call starts out empty.
	if obj.newContract || !obj.exists {
		obj.originStorage[key] = common.Hash{}
		return common.Hash{}
	}
	value, err := sdb.reader.ReadAccountStorage(sdb.ctx, obj.address, obj.data.Incarnation, key)
	if err != nil {
		sdb.setError(err)
	}
	hash := value.Bytes32()
	obj.originStorage[key] = hash
	return hash
}

func (sdb *IntraBlockState) SetState(addr common.Address, key, value common.Hash) common.Hash {
	obj := sdb.getOrNewStateObject(addr)
	prev := sdb.GetState(addr, key)
	if prev == value {
		return prev
	}
	sdb.appendJournal(storageChange{account: addr, key: key, prev: prev, hadPrev: hasDirty(obj, key)})
	obj.dirtyStorage[key] = value
	return prev
}

func hasDirty(obj *stateObject, key common.Hash) bool {
	_, ok := obj.dirtyStorage[key]
	return ok
}

func (sdb *IntraBlockState) GetStorageRoot(addr common.Address) common.Hash {
	// The remote snapshot carries plain state only; an empty root tells the
	// interpreter the account has no materialized storage trie.
	obj := sdb.getStateObject(addr)
	if obj == nil || obj.newContract {
		return common.Hash{}
	}
	return types.EmptyRootHash
}

// ---- transient storage ----

func (sdb *IntraBlockState) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := sdb.transientStorage[addr]; ok {
		return slots[key]
	}
	return common.Hash{}
}

func (sdb *IntraBlockState) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := sdb.GetTransientState(addr, key)
	if prev == value {
		return
	}
	sdb.appendJournal(transientStorageChange{account: addr, key: key, prev: prev})
	sdb.setTransient(addr, key, value)
}

func (sdb *IntraBlockState) setTransient(addr common.Address, key, value common.Hash) {
	slots, ok := sdb.transientStorage[addr]
	if !ok {
		slots = map[common.Hash]common.Hash{}
		sdb.transientStorage[addr] = slots
	}
	slots[key] = value
}

// ---- self destruct ----

func (sdb *IntraBlockState) SelfDestruct(addr common.Address) uint256.Int {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return uint256.Int{}
	}
	prevBalance := *obj.data.Balance
	sdb.appendJournal(selfDestructChange{
		account:     addr,
		prev:        obj.selfDestructed,
		prevBalance: prevBalance,
	})
	obj.selfDestructed = true
	obj.data.Balance = new(uint256.Int)
	return prevBalance
}

func (sdb *IntraBlockState) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	obj := sdb.getStateObject(addr)
	if obj == nil {
		return uint256.Int{}, false
	}
	if obj.newContract {
		return sdb.SelfDestruct(addr), true
	}
	return *obj.data.Balance, false
}

func (sdb *IntraBlockState) HasSelfDestructed(addr common.Address) bool {
	obj := sdb.getStateObject(addr)
	return obj != nil && obj.selfDestructed
}

// ---- refund ----

func (sdb *IntraBlockState) AddRefund(gas uint64) {
	sdb.appendJournal(refundChange{prev: sdb.refund})
	sdb.refund += gas
}

func (sdb *IntraBlockState) SubRefund(gas uint64) {
	sdb.appendJournal(refundChange{prev: sdb.refund})
	if gas > sdb.refund {
		sdb.setError(NewRefundUnderflowError(gas, sdb.refund))
		gas = sdb.refund
	}
	sdb.refund -= gas
}

func (sdb *IntraBlockState) GetRefund() uint64 {
	return sdb.refund
}

// ---- logs and preimages ----

func (sdb *IntraBlockState) AddLog(log *types.Log) {
	sdb.appendJournal(addLogChange{})
	log.Index = sdb.logSize
	sdb.logs = append(sdb.logs, log)
	sdb.logSize++
}

func (sdb *IntraBlockState) GetLogs() []*types.Log {
	return sdb.logs
}

func (sdb *IntraBlockState) AddPreimage(common.Hash, []byte) {
	// Preimage recording serves offline debugging of a local trie; there is
	// no trie here.
}

// ---- access list ----

func (sdb *IntraBlockState) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if rules.IsBerlin {
		al := newAccessList()
		sdb.accessList = al
		al.AddAddress(sender)
		if dest != nil {
			al.AddAddress(*dest)
		}
		for _, addr := range precompiles {
			al.AddAddress(addr)
		}
		for _, el := range txAccesses {
			al.AddAddress(el.Address)
			for _, key := range el.StorageKeys {
				al.AddSlot(el.Address, key)
			}
		}
		if rules.IsShanghai {
			al.AddAddress(coinbase)
		}
	}
	// Transient storage does not persist across transactions.
	sdb.transientStorage = map[common.Address]map[common.Hash]common.Hash{}
}

func (sdb *IntraBlockState) AddAddressToAccessList(addr common.Address) {
	if sdb.accessList.AddAddress(addr) {
		sdb.appendJournal(accessListAddAccountChange{address: addr})
	}
}

func (sdb *IntraBlockState) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	addrAdded, slotAdded := sdb.accessList.AddSlotPair(addr, slot)
	if addrAdded {
		sdb.appendJournal(accessListAddAccountChange{address: addr})
	}
	if slotAdded {
		sdb.appendJournal(accessListAddSlotChange{address: addr, slot: slot})
	}
}

func (sdb *IntraBlockState) AddressInAccessList(addr common.Address) bool {
	return sdb.accessList.ContainsAddress(addr)
}

func (sdb *IntraBlockState) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	return sdb.accessList.Contains(addr, slot)
}

// ---- snapshots ----

func (sdb *IntraBlockState) Snapshot() int {
	id := sdb.nextRevisionID
	sdb.nextRevisionID++
	sdb.validRevisions = append(sdb.validRevisions, revision{id: id, journalIndex: len(sdb.journal)})
	return id
}

func (sdb *IntraBlockState) RevertToSnapshot(id int) {
	idx := -1
	for i := len(sdb.validRevisions) - 1; i >= 0; i-- {
		if sdb.validRevisions[i].id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("revision id cannot be reverted")
	}
	snapshot := sdb.validRevisions[idx].journalIndex
	for i := len(sdb.journal) - 1; i >= snapshot; i-- {
		sdb.journal[i].revert(sdb)
	}
	sdb.journal = sdb.journal[:snapshot]
	sdb.validRevisions = sdb.validRevisions[:idx]
}

func (sdb *IntraBlockState) appendJournal(entry journalEntry) {
	sdb.journal = append(sdb.journal, entry)
}

// ---- verkle-era surface; not materialized over a remote plain snapshot ----

func (sdb *IntraBlockState) PointCache() *utils.PointCache {
	if sdb.pointCache == nil {
		sdb.pointCache = utils.NewPointCache(4096)
	}
	return sdb.pointCache
}

func (sdb *IntraBlockState) Witness() *stateless.Witness {
	return nil
}

func (sdb *IntraBlockState) AccessEvents() *state.AccessEvents {
	return nil
}

// Finalise clears journalled revert data between transactions. Dirty objects
// stay live: the view is read-only and is never committed anywhere.
func (sdb *IntraBlockState) Finalise(bool) {
	sdb.journal = sdb.journal[:0]
	sdb.validRevisions = sdb.validRevisions[:0]
	sdb.nextRevisionID = 0
}
