// Package proc is a low-level package that provides read only access to
// the memory of the process we are inspecting.
//
// proc implements:
// * the MemoryReader abstraction and typed reads on top of it
// * live processes (linux), ELF core files and YAML snapshots as memory sources
// * a per-object read cache used while decoding a single object
//
package proc
