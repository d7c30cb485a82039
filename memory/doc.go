// Package memory provides functionality for encoding memory addresses
// the way a target process expects to find them.
//
// A process's bitness determines the width of every pointer stored in
// its address space. Records handed to code running inside a 32-bit
// process need 4 byte pointers, while a 64-bit process expects 8 byte
// pointers. This is true even when the controlling process is 64-bit,
// which makes it easy to produce a record with the wrong layout.
//
// PointerMaker captures the byte order and pointer width of a target
// once, so that callers can encode and decode addresses without
// repeating that information. The x86 family is little endian
// regardless of bitness.
package memory
