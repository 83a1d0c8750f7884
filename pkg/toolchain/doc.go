// Package toolchain answers the question "which linker do I invoke, on this host, to produce a working
// binary for that target?". Host detection and command probing sit behind small interfaces so the
// decision logic can be exercised without touching the real machine.
package toolchain
