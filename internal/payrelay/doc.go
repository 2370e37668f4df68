// Package payrelay implements the payment relay module: native and token
// payments forwarded to a recipient minus a basis-point fee that accumulates
// per token for the owner.
//
// All bookkeeping (fee accumulation, events) happens before any outbound
// transfer, so a recipient that calls back observes the updated state.
package payrelay
