package payrelay

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/vm"
)

// Kind is the code kind relay modules are deployed under.
const Kind = "payment-relay"

const (
	// DefaultTransactionFeeBps is set by init: 0.5%.
	DefaultTransactionFeeBps = 50
	// MaxTransactionFeeBps caps the fee at 10%.
	MaxTransactionFeeBps = 1000
	bpsDenominator       = 10_000
)

// Native is the sentinel token key for the native currency.
var Native = common.Address{}

// ABI is the module interface.
var ABI = vm.MustParseABI(`[
	{"type":"function","name":"init","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"computeConversationId","stateMutability":"pure",
	 "inputs":[{"name":"a","type":"address"},{"name":"b","type":"address"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"sendNative","stateMutability":"payable",
	 "inputs":[
		{"name":"conversationId","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"contentRef","type":"string"},
		{"name":"contentHash","type":"bytes32"},
		{"name":"mode","type":"uint8"},
		{"name":"clientMsgId","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"sendERC20","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"conversationId","type":"bytes32"},
		{"name":"recipient","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"contentRef","type":"string"},
		{"name":"contentHash","type":"bytes32"},
		{"name":"mode","type":"uint8"},
		{"name":"clientMsgId","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"setTransactionFee","stateMutability":"nonpayable",
	 "inputs":[{"name":"bps","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdrawFees","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[]},
	{"type":"function","name":"transactionFeePercent","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"accumulatedFees","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`)

// tokenABI is the slice of the fungible token interface the relay calls.
var tokenABI = vm.MustParseABI(`[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`)
