package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is one undoable mutation.
type journalEntry interface {
	revert(db *DB)
	// touched returns the address and, for storage writes, the slot affected.
	touched() (common.Address, *common.Hash)
}

type createEntry struct {
	addr common.Address
}

func (e createEntry) revert(db *DB) {
	delete(db.accounts, e.addr)
}

func (e createEntry) touched() (common.Address, *common.Hash) {
	return e.addr, nil
}

type balanceEntry struct {
	addr common.Address
	prev uint256.Int
}

func (e balanceEntry) revert(db *DB) {
	if acc := db.accounts[e.addr]; acc != nil {
		acc.balance = e.prev
	}
}

func (e balanceEntry) touched() (common.Address, *common.Hash) {
	return e.addr, nil
}

type nonceEntry struct {
	addr common.Address
	prev uint64
}

func (e nonceEntry) revert(db *DB) {
	if acc := db.accounts[e.addr]; acc != nil {
		acc.nonce = e.prev
	}
}

func (e nonceEntry) touched() (common.Address, *common.Hash) {
	return e.addr, nil
}

type codeEntry struct {
	addr common.Address
	prev string
}

func (e codeEntry) revert(db *DB) {
	if acc := db.accounts[e.addr]; acc != nil {
		acc.code = e.prev
	}
}

func (e codeEntry) touched() (common.Address, *common.Hash) {
	return e.addr, nil
}

type storageEntry struct {
	addr    common.Address
	slot    common.Hash
	prev    []byte
	existed bool
}

func (e storageEntry) revert(db *DB) {
	acc := db.accounts[e.addr]
	if acc == nil {
		return
	}
	if e.existed {
		acc.storage[e.slot] = e.prev
	} else {
		delete(acc.storage, e.slot)
	}
}

func (e storageEntry) touched() (common.Address, *common.Hash) {
	slot := e.slot
	return e.addr, &slot
}
