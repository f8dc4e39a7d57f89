// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/journalrelay/lib/secret"
)

const serviceAccountKey = `{"type":"service_account","client_email":"relay@example.iam.gserviceaccount.com"}`

func newKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestGenerateKeypair(t *testing.T) {
	first := newKeypair(t)
	second := newKeypair(t)

	if !strings.HasPrefix(first.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Errorf("private key has wrong prefix")
	}
	if !strings.HasPrefix(first.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", first.PublicKey)
	}
	if first.PublicKey == second.PublicKey {
		t.Error("two generated keypairs share a public key")
	}
}

func TestEncryptDecryptArmored(t *testing.T) {
	keypair := newKeypair(t)

	ciphertext, err := Encrypt([]byte(serviceAccountKey), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		t.Fatalf("ciphertext is not armored: %q", ciphertext[:32])
	}

	plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != serviceAccountKey {
		t.Errorf("plaintext = %q", plaintext.String())
	}
}

func TestDecryptBinary(t *testing.T) {
	keypair := newKeypair(t)
	recipient, err := age.ParseX25519Recipient(keypair.PublicKey)
	if err != nil {
		t.Fatalf("ParseX25519Recipient: %v", err)
	}
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	io.WriteString(writer, serviceAccountKey)
	writer.Close()

	plaintext, err := Decrypt(ciphertext.Bytes(), keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != serviceAccountKey {
		t.Errorf("plaintext = %q", plaintext.String())
	}
}

func TestDecryptWrongIdentity(t *testing.T) {
	owner := newKeypair(t)
	stranger := newKeypair(t)

	ciphertext, err := Encrypt([]byte(serviceAccountKey), []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(ciphertext, stranger.PrivateKey); err == nil {
		t.Fatal("Decrypt with the wrong identity should fail")
	}
}

func TestEncryptRecipientErrors(t *testing.T) {
	if _, err := Encrypt([]byte("x"), nil); err == nil {
		t.Error("Encrypt with no recipients should fail")
	}
	if _, err := Encrypt([]byte("x"), []string{"age1notakey"}); err == nil {
		t.Error("Encrypt with an invalid recipient should fail")
	}
}

func TestReadIdentityAndDecryptFile(t *testing.T) {
	directory := t.TempDir()
	keypair := newKeypair(t)

	identityPath := filepath.Join(directory, "identity.txt")
	identityFile := "# created for the relay\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey.String() + "\n"
	if err := os.WriteFile(identityPath, []byte(identityFile), 0600); err != nil {
		t.Fatalf("writing identity: %v", err)
	}

	ciphertext, err := Encrypt([]byte(serviceAccountKey), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	keyPath := filepath.Join(directory, "key.json"+Suffix)
	if err := os.WriteFile(keyPath, ciphertext, 0600); err != nil {
		t.Fatalf("writing sealed key: %v", err)
	}
	if !IsSealed(keyPath) || IsSealed("key.json") {
		t.Error("IsSealed misclassifies paths")
	}

	identity, err := ReadIdentity(identityPath)
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	defer identity.Close()

	plaintext, err := DecryptFile(keyPath, identity)
	if err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != serviceAccountKey {
		t.Errorf("plaintext = %q", plaintext.String())
	}
}

func TestReadIdentityRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := os.WriteFile(path, []byte("not an identity\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadIdentity(path); err == nil {
		t.Fatal("ReadIdentity should reject a file without identities")
	}
}

func TestDecryptInvalidIdentityBuffer(t *testing.T) {
	identity, err := secret.NewFromBytes([]byte("AGE-SECRET-KEY-1INVALID"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer identity.Close()
	if _, err := Decrypt([]byte("whatever"), identity); err == nil {
		t.Fatal("Decrypt should fail with an unparseable identity")
	}
}
