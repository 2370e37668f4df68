package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/state"
)

// Namespace is the ledger's private storage region.
var Namespace = state.NewNamespace("dispatch.message-ledger.storage.v1")

const (
	fieldInitialized = iota
	fieldOwner
	fieldRelayer
	fieldPayAsYouGoFee
	fieldRelayerFee
	fieldConversations // id → Conversation
	fieldCredits       // address → prepaid credit
	fieldCollected     // fees earned and not yet withdrawn
)

// Conversation member offsets within a conversations entry.
const (
	memberLow = iota
	memberHigh
	memberKeyLow
	memberKeyHigh
	memberCreatedAt
)

// Conversation is a stored conversation between two participants.
type Conversation struct {
	ID              common.Hash
	ParticipantLow  common.Address
	ParticipantHigh common.Address
	KeyForLow       []byte
	KeyForHigh      []byte
	CreatedAt       uint64
}

// KeyFor returns the blob stored for participant.
func (c Conversation) KeyFor(participant common.Address) ([]byte, bool) {
	switch participant {
	case c.ParticipantLow:
		return c.KeyForLow, true
	case c.ParticipantHigh:
		return c.KeyForHigh, true
	}
	return nil, false
}

type layout struct {
	s state.Storage
}

func (l layout) initialized() bool { return l.s.Bool(Namespace.Field(fieldInitialized)) }
func (l layout) setInitialized()   { l.s.SetBool(Namespace.Field(fieldInitialized), true) }

func (l layout) owner() common.Address     { return l.s.Addr(Namespace.Field(fieldOwner)) }
func (l layout) setOwner(a common.Address) { l.s.SetAddr(Namespace.Field(fieldOwner), a) }

func (l layout) relayer() common.Address     { return l.s.Addr(Namespace.Field(fieldRelayer)) }
func (l layout) setRelayer(a common.Address) { l.s.SetAddr(Namespace.Field(fieldRelayer), a) }

func (l layout) payAsYouGoFee() *uint256.Int     { return l.s.Uint(Namespace.Field(fieldPayAsYouGoFee)) }
func (l layout) setPayAsYouGoFee(v *uint256.Int) { l.s.SetUint(Namespace.Field(fieldPayAsYouGoFee), v) }

func (l layout) relayerFee() *uint256.Int     { return l.s.Uint(Namespace.Field(fieldRelayerFee)) }
func (l layout) setRelayerFee(v *uint256.Int) { l.s.SetUint(Namespace.Field(fieldRelayerFee), v) }

func (l layout) collected() *uint256.Int     { return l.s.Uint(Namespace.Field(fieldCollected)) }
func (l layout) setCollected(v *uint256.Int) { l.s.SetUint(Namespace.Field(fieldCollected), v) }

func (l layout) credit(a common.Address) *uint256.Int {
	return l.s.Uint(Namespace.Entry(fieldCredits, a.Bytes()))
}

func (l layout) setCredit(a common.Address, v *uint256.Int) {
	l.s.SetUint(Namespace.Entry(fieldCredits, a.Bytes()), v)
}

func (l layout) conversation(id common.Hash) (Conversation, bool) {
	entry := Namespace.Entry(fieldConversations, id.Bytes())
	c := Conversation{
		ID:              id,
		ParticipantLow:  l.s.Addr(state.Offset(entry, memberLow)),
		ParticipantHigh: l.s.Addr(state.Offset(entry, memberHigh)),
		KeyForLow:       l.s.Bytes(state.Offset(entry, memberKeyLow)),
		KeyForHigh:      l.s.Bytes(state.Offset(entry, memberKeyHigh)),
		CreatedAt:       l.s.Uint64(state.Offset(entry, memberCreatedAt)),
	}
	// Conversations with the zero address are rejected, so a stored entry
	// always has a non-zero high participant.
	if c.ParticipantHigh == (common.Address{}) {
		return Conversation{}, false
	}
	return c, true
}

func (l layout) putConversation(c Conversation) {
	entry := Namespace.Entry(fieldConversations, c.ID.Bytes())
	l.s.SetAddr(state.Offset(entry, memberLow), c.ParticipantLow)
	l.s.SetAddr(state.Offset(entry, memberHigh), c.ParticipantHigh)
	l.s.SetBytes(state.Offset(entry, memberKeyLow), c.KeyForLow)
	l.s.SetBytes(state.Offset(entry, memberKeyHigh), c.KeyForHigh)
	l.s.SetUint64(state.Offset(entry, memberCreatedAt), c.CreatedAt)
}
