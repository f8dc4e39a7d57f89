// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region excluded from core dumps
// (MADV_DONTDUMP) and locked into RAM (mlock) unless the host refuses
// the lock; [Buffer.Locked] reports which. The garbage collector never
// sees it, so it is never copied or relocated, and Close zeroes it
// before unmapping. The relay keeps service-account private keys and
// age identities in Buffers for the life of the process.
//
// [ReadFile] loads a file straight into a Buffer and zeroes the
// intermediate heap copy. [Zero] clears caller-owned slices that held
// secret material.
//
// Depends on golang.org/x/sys/unix.
package secret
