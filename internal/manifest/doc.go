// Package manifest describes and performs a deployment: a dispatch proxy,
// the modules routed through it, helper tokens and genesis funding.
//
// Manifests are CUE files checked against the embedded schema
// (schema.cue). Compile turns the CUE value into a Manifest; Install
// replays it against an engine as ordinary units of work:
//
//	fund → deploy proxy → deploy tokens → deploy module + cut(+init) → setup calls
//
// Every module is installed with its own cut whose initializer is the
// module's init, so a module is either fully routed and initialized or not
// installed at all.
package manifest
