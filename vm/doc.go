// Package vm implements the micro-wibble runtime: a small, sandboxed,
// garbage-collected bytecode virtual machine meant to be embedded in
// memory-constrained hosts.
//
// A separate front-end compiles guest programs into a constant-pool image;
// this package only loads and executes an already-validated image. It owns
// the word-tagged value representation, the heap and its bounds-checked
// access discipline, a mark-sweep collector, the call/return protocol, the
// bytecode decoder and dispatcher, and the native-module trampoline.
package vm
