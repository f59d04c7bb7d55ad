// Package wasmir compiles WebAssembly function bodies into a flat, label-addressed IR shared by every compiler tier.
//
// The IR is inspired by microwasm, the format of the lightbeam compiler in older wasmtime. The main difference from
// WebAssembly is that it has no block operations: control flow is only branches to labels, and each branch carries the
// range of operand stack values to drop. Locals are addressed by index in a frame, not on the operand stack.
//
// Compile type checks and gates features as it translates, so a function that compiles is valid. Optimize rewrites
// operations into equivalent ones with the Passes.
package wasmir
