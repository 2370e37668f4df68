package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Storage is a typed view over the slots of one address.
//
// Integers are stored as minimal big-endian bytes, addresses as their 20
// bytes, booleans as a single 0x01 byte. Zero values clear the slot.
type Storage struct {
	db   *DB
	addr common.Address
}

// Storage returns the slot view of addr.
func (db *DB) Storage(addr common.Address) Storage {
	return Storage{db: db, addr: addr}
}

// Address returns the address whose storage this view reads and writes.
func (s Storage) Address() common.Address { return s.addr }

func (s Storage) Bytes(slot common.Hash) []byte {
	return s.db.GetState(s.addr, slot)
}

func (s Storage) SetBytes(slot common.Hash, value []byte) {
	s.db.SetState(s.addr, slot, value)
}

func (s Storage) Uint(slot common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(s.db.GetState(s.addr, slot))
}

func (s Storage) SetUint(slot common.Hash, v *uint256.Int) {
	if v == nil || v.IsZero() {
		s.db.SetState(s.addr, slot, nil)
		return
	}
	s.db.SetState(s.addr, slot, v.Bytes())
}

func (s Storage) Uint64(slot common.Hash) uint64 {
	return s.Uint(slot).Uint64()
}

func (s Storage) SetUint64(slot common.Hash, v uint64) {
	s.SetUint(slot, uint256.NewInt(v))
}

func (s Storage) Addr(slot common.Hash) common.Address {
	return common.BytesToAddress(s.db.GetState(s.addr, slot))
}

func (s Storage) SetAddr(slot common.Hash, a common.Address) {
	if a == (common.Address{}) {
		s.db.SetState(s.addr, slot, nil)
		return
	}
	s.db.SetState(s.addr, slot, a.Bytes())
}

func (s Storage) Bool(slot common.Hash) bool {
	v := s.db.GetState(s.addr, slot)
	return len(v) == 1 && v[0] == 1
}

func (s Storage) SetBool(slot common.Hash, b bool) {
	if !b {
		s.db.SetState(s.addr, slot, nil)
		return
	}
	s.db.SetState(s.addr, slot, []byte{1})
}
