// Package diamond implements the dispatch proxy: a contract that owns a
// selector→module route table and executes module code against its own
// storage.
//
// The proxy answers a fixed set of built-in selectors itself (cut, loupe
// reads, ownership). Every other selector is looked up in the route table and
// delegated to the mapped module with the proxy's owner attached as the
// frame's authority.
//
// Route changes go through Cut only. A cut is staged on a copy of the table,
// written, then the optional initializer runs against the updated storage; an
// initializer failure reverts the whole call, staged table included.
package diamond
