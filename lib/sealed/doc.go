// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed protects service-account key files at rest with age
// encryption.
//
// A key file whose name ends in ".age" is decrypted at startup with an
// age identity file and the plaintext goes straight into a
// [secret.Buffer]; the JSON key never touches the Go heap for longer
// than the decode. Both binary and ASCII-armored age files are
// accepted. [Encrypt] produces armored output, which is what
// `journalrelay credentials seal` writes.
//
// Key exports:
//
//   - [GenerateKeypair] -- new x25519 identity in a secret.Buffer
//   - [Encrypt] -- encrypt to one or more age1... recipients
//   - [Decrypt] / [DecryptFile] -- decrypt with identities from a Buffer
//   - [ReadIdentity] -- load and validate an identity file
//
// Depends on filippo.io/age and lib/secret.
package sealed
