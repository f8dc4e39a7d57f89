// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/journalrelay/lib/secret"
)

// Suffix marks a file as age-encrypted.
const Suffix = ".age"

// maxSealedSize bounds sealed and identity files. Service-account keys
// are a few kilobytes.
const maxSealedSize = 1 << 20

// Keypair is an age x25519 identity and its recipient.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... identity.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient. Safe to publish.
	PublicKey string
}

// Close releases the private key.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair returns a fresh x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to every recipient and returns
// ASCII-armored ciphertext.
func Encrypt(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	armored := armor.NewWriter(&ciphertext)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Decrypt decrypts binary or armored ciphertext with the identities in
// identityFile (the contents of an age identity file: one
// AGE-SECRET-KEY-1... per line, # comments allowed). The identity
// buffer is borrowed, not closed.
func Decrypt(ciphertext []byte, identityFile *secret.Buffer) (*secret.Buffer, error) {
	identities, err := age.ParseIdentities(strings.NewReader(identityFile.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing age identities: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	buffered := bufio.NewReader(source)
	if start, _ := buffered.Peek(len(armor.Header)); string(start) == armor.Header {
		source = armor.NewReader(buffered)
	} else {
		source = buffered
	}

	reader, err := age.Decrypt(source, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, errors.New("decrypted plaintext is empty")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting plaintext: %w", err)
	}
	return buffer, nil
}

// ReadIdentity loads an age identity file and checks that it holds at
// least one usable identity.
func ReadIdentity(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFile(path, maxSealedSize)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	if _, err := age.ParseIdentities(strings.NewReader(buffer.String())); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("parsing age identity %s: %w", path, err)
	}
	return buffer, nil
}

// DecryptFile reads and decrypts a sealed file.
func DecryptFile(path string, identityFile *secret.Buffer) (*secret.Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ciphertext, err := io.ReadAll(io.LimitReader(file, maxSealedSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(ciphertext) > maxSealedSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxSealedSize)
	}
	plaintext, err := Decrypt(ciphertext, identityFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plaintext, nil
}

// IsSealed reports whether path names an age-encrypted file.
func IsSealed(path string) bool {
	return strings.HasSuffix(path, Suffix)
}
