package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/fault"
)

type account struct {
	balance uint256.Int
	nonce   uint64
	code    string
	storage map[common.Hash][]byte
}

// DB is an in-memory, journaled world state.
//
// DB is not safe for concurrent use; the engine's single-writer loop is the
// only goroutine that touches it.
type DB struct {
	accounts map[common.Address]*account
	journal  []journalEntry
}

// New creates an empty world state.
func New() *DB {
	return &DB{accounts: make(map[common.Address]*account)}
}

func (db *DB) get(addr common.Address) *account {
	return db.accounts[addr]
}

func (db *DB) getOrCreate(addr common.Address) *account {
	acc := db.accounts[addr]
	if acc == nil {
		acc = &account{storage: make(map[common.Hash][]byte)}
		db.accounts[addr] = acc
		db.journal = append(db.journal, createEntry{addr: addr})
	}
	return acc
}

// Exists reports whether the address has ever been touched.
func (db *DB) Exists(addr common.Address) bool {
	return db.accounts[addr] != nil
}

// GetBalance returns a copy of the native balance of addr.
func (db *DB) GetBalance(addr common.Address) *uint256.Int {
	if acc := db.get(addr); acc != nil {
		return new(uint256.Int).Set(&acc.balance)
	}
	return new(uint256.Int)
}

// AddBalance credits amount to addr.
func (db *DB) AddBalance(addr common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	acc := db.getOrCreate(addr)
	db.journal = append(db.journal, balanceEntry{addr: addr, prev: acc.balance})
	acc.balance.Add(&acc.balance, amount)
}

// SubBalance debits amount from addr. The balance never goes negative: an
// over-debit fails with INSUFFICIENT_BALANCE and leaves state untouched.
func (db *DB) SubBalance(addr common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	acc := db.get(addr)
	if acc == nil || acc.balance.Lt(amount) {
		have := db.GetBalance(addr)
		return fault.InsufficientBalance("native balance too low").
			With("account", addr.Hex()).
			With("have", have.Dec()).
			With("need", amount.Dec())
	}
	db.journal = append(db.journal, balanceEntry{addr: addr, prev: acc.balance})
	acc.balance.Sub(&acc.balance, amount)
	return nil
}

// GetNonce returns the creation nonce of addr.
func (db *DB) GetNonce(addr common.Address) uint64 {
	if acc := db.get(addr); acc != nil {
		return acc.nonce
	}
	return 0
}

// SetNonce sets the creation nonce of addr.
func (db *DB) SetNonce(addr common.Address, nonce uint64) {
	acc := db.getOrCreate(addr)
	db.journal = append(db.journal, nonceEntry{addr: addr, prev: acc.nonce})
	acc.nonce = nonce
}

// GetCode returns the code kind installed at addr ("" for plain accounts).
func (db *DB) GetCode(addr common.Address) string {
	if acc := db.get(addr); acc != nil {
		return acc.code
	}
	return ""
}

// HasCode reports whether addr holds contract code.
func (db *DB) HasCode(addr common.Address) bool {
	return db.GetCode(addr) != ""
}

// SetCode installs a code kind at addr.
func (db *DB) SetCode(addr common.Address, kind string) {
	acc := db.getOrCreate(addr)
	db.journal = append(db.journal, codeEntry{addr: addr, prev: acc.code})
	acc.code = kind
}

// GetState returns a copy of the raw value stored at slot of addr.
// Unset slots return nil.
func (db *DB) GetState(addr common.Address, slot common.Hash) []byte {
	acc := db.get(addr)
	if acc == nil {
		return nil
	}
	return common.CopyBytes(acc.storage[slot])
}

// SetState writes value at slot of addr. An empty value clears the slot.
func (db *DB) SetState(addr common.Address, slot common.Hash, value []byte) {
	acc := db.getOrCreate(addr)
	prev, existed := acc.storage[slot]
	if existed && bytes.Equal(prev, value) {
		return
	}
	if !existed && len(value) == 0 {
		return
	}
	db.journal = append(db.journal, storageEntry{addr: addr, slot: slot, prev: prev, existed: existed})
	if len(value) == 0 {
		delete(acc.storage, slot)
		return
	}
	acc.storage[slot] = common.CopyBytes(value)
}

// Snapshot returns an identifier for the current journal position.
func (db *DB) Snapshot() int {
	return len(db.journal)
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (db *DB) RevertToSnapshot(id int) {
	for i := len(db.journal) - 1; i >= id; i-- {
		db.journal[i].revert(db)
	}
	db.journal = db.journal[:id]
}

// Pending returns the changes made since the last Commit without clearing them.
func (db *DB) Pending() Changeset {
	accounts := make(map[common.Address]bool)
	slots := make(map[common.Address]map[common.Hash]bool)
	for _, entry := range db.journal {
		addr, slot := entry.touched()
		if slot == nil {
			accounts[addr] = true
			continue
		}
		if slots[addr] == nil {
			slots[addr] = make(map[common.Hash]bool)
		}
		slots[addr][*slot] = true
	}

	var cs Changeset
	for addr := range accounts {
		acc := db.get(addr)
		if acc == nil {
			// Created and reverted within the same unit; nothing to persist.
			continue
		}
		cs.Accounts = append(cs.Accounts, AccountChange{
			Address: addr,
			Balance: new(uint256.Int).Set(&acc.balance),
			Nonce:   acc.nonce,
			Code:    acc.code,
		})
	}
	for addr, set := range slots {
		for slot := range set {
			cs.Slots = append(cs.Slots, SlotChange{
				Address: addr,
				Slot:    slot,
				Value:   db.GetState(addr, slot),
			})
		}
	}
	cs.sort()
	return cs
}

// Commit returns the pending changes and clears the journal. Committed
// changes can no longer be reverted.
func (db *DB) Commit() Changeset {
	cs := db.Pending()
	db.journal = db.journal[:0]
	return cs
}

// Load seeds an account from persisted state without journaling.
func (db *DB) Load(addr common.Address, balance *uint256.Int, nonce uint64, code string) {
	acc := db.accounts[addr]
	if acc == nil {
		acc = &account{storage: make(map[common.Hash][]byte)}
		db.accounts[addr] = acc
	}
	acc.balance.Set(balance)
	acc.nonce = nonce
	acc.code = code
}

// LoadSlot seeds a storage slot from persisted state without journaling.
func (db *DB) LoadSlot(addr common.Address, slot common.Hash, value []byte) {
	acc := db.accounts[addr]
	if acc == nil {
		acc = &account{storage: make(map[common.Hash][]byte)}
		db.accounts[addr] = acc
	}
	acc.storage[slot] = common.CopyBytes(value)
}

// Changeset is the set of accounts and slots modified by a unit of work,
// carrying their final values.
type Changeset struct {
	Accounts []AccountChange
	Slots    []SlotChange
}

// AccountChange is the final balance, nonce and code of a touched account.
type AccountChange struct {
	Address common.Address
	Balance *uint256.Int
	Nonce   uint64
	Code    string
}

// SlotChange is the final value of a touched slot. An empty Value means the
// slot was cleared.
type SlotChange struct {
	Address common.Address
	Slot    common.Hash
	Value   []byte
}

// Empty reports whether the changeset carries no changes.
func (cs Changeset) Empty() bool {
	return len(cs.Accounts) == 0 && len(cs.Slots) == 0
}

func (cs *Changeset) sort() {
	sort.Slice(cs.Accounts, func(i, j int) bool {
		return bytes.Compare(cs.Accounts[i].Address[:], cs.Accounts[j].Address[:]) < 0
	})
	sort.Slice(cs.Slots, func(i, j int) bool {
		a, b := cs.Slots[i], cs.Slots[j]
		if c := bytes.Compare(a.Address[:], b.Address[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Slot[:], b.Slot[:]) < 0
	})
}
