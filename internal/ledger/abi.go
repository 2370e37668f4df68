package ledger

import (
	"github.com/holiman/uint256"

	"github.com/roach88/dispatch/internal/vm"
)

// Kind is the code kind ledger modules are deployed under.
const Kind = "message-ledger"

// Default fees set by init, in wei.
var (
	DefaultPayAsYouGoFee = uint256.NewInt(100_000_000_000_000) // 0.0001 ether
	DefaultRelayerFee    = uint256.NewInt(100_000_000_000_000)
)

// ABI is the module interface.
var ABI = vm.MustParseABI(abiJSON)

const abiJSON = `[
	{"type":"function","name":"init","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"createConversation","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"counterparty","type":"address"},
		{"name":"keyForCaller","type":"bytes"},
		{"name":"keyForCounterparty","type":"bytes"}],
	 "outputs":[{"name":"id","type":"bytes32"}]},
	{"type":"function","name":"getMyKey","stateMutability":"view",
	 "inputs":[{"name":"id","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"sendMessage","stateMutability":"payable",
	 "inputs":[
		{"name":"conversationId","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"payload","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"sendMessageViaRelayer","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"conversationId","type":"bytes32"},
		{"name":"payer","type":"address"},
		{"name":"recipient","type":"address"},
		{"name":"payload","type":"bytes"},
		{"name":"fee","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"depositFunds","stateMutability":"payable",
	 "inputs":[],"outputs":[]},
	{"type":"function","name":"setPayAsYouGoFee","stateMutability":"nonpayable",
	 "inputs":[{"name":"fee","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setRelayerFee","stateMutability":"nonpayable",
	 "inputs":[{"name":"fee","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setRelayer","stateMutability":"nonpayable",
	 "inputs":[{"name":"relayer","type":"address"}],"outputs":[]},
	{"type":"function","name":"withdrawCollectedFees","stateMutability":"nonpayable",
	 "inputs":[],"outputs":[]},
	{"type":"function","name":"payAsYouGoFee","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"relayerFee","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"relayer","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"fundsOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"collectedFees","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"conversation","stateMutability":"view",
	 "inputs":[{"name":"id","type":"bytes32"}],
	 "outputs":[
		{"name":"participantLow","type":"address"},
		{"name":"participantHigh","type":"address"},
		{"name":"createdAt","type":"uint64"}]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`
