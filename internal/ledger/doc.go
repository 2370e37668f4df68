// Package ledger implements the message ledger module: conversations with
// opaque per-participant key blobs, pay-per-message fees with exact-change
// refunds, and relayer-submitted messages paid from prepaid credit.
//
// The same code runs standalone (own storage, own owner) or routed behind a
// dispatch proxy (proxy storage, owner supplied by the proxy). The two are
// independent ledgers.
package ledger
