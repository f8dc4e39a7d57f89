// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/metadata"
	"github.com/bureau-foundation/journalrelay/lib/sealed"
	"github.com/bureau-foundation/journalrelay/lib/secret"
)

func generateKeyJSON(t *testing.T, tokenURI string) ([]byte, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	keyFile := serviceAccountKeyFile{
		Type:         "service_account",
		ProjectID:    "example-project",
		PrivateKeyID: "key-1",
		PrivateKey:   string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		ClientEmail:  "relay@example-project.iam.gserviceaccount.com",
		TokenURI:     tokenURI,
	}
	data, err := json.Marshal(keyFile)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data, &privateKey.PublicKey
}

func newFetcher(t *testing.T, keyJSON []byte, fakeClock clock.Clock) *ServiceAccountFetcher {
	t.Helper()
	key, err := secret.NewFromBytes(append([]byte(nil), keyJSON...))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	fetcher, err := NewServiceAccountFetcher(key, nil, fakeClock)
	if err != nil {
		t.Fatalf("NewServiceAccountFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

// verifyAssertion checks the JWT signature and returns its claims.
func verifyAssertion(t *testing.T, assertion string, publicKey *rsa.PublicKey) map[string]any {
	t.Helper()
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		t.Fatalf("assertion has %d parts, want 3", len(parts))
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], signature); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}

	var header map[string]string
	headerJSON, _ := base64.RawURLEncoding.DecodeString(parts[0])
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		t.Fatalf("decoding header: %v", err)
	}
	if header["alg"] != "RS256" || header["kid"] != "key-1" {
		t.Errorf("header = %v", header)
	}

	var claims map[string]any
	claimsJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("decoding claims: %v", err)
	}
	return claims
}

func TestServiceAccountFetch(t *testing.T) {
	fakeClock := clock.Fake(epoch)
	var publicKey *rsa.PublicKey
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != jwtBearerGrantType {
			http.Error(w, "bad grant_type", http.StatusBadRequest)
			return
		}
		claims := verifyAssertion(t, r.PostForm.Get("assertion"), publicKey)
		if claims["scope"] != LoggingWriteScope {
			t.Errorf("scope = %v", claims["scope"])
		}
		if claims["iss"] != "relay@example-project.iam.gserviceaccount.com" {
			t.Errorf("iss = %v", claims["iss"])
		}
		if claims["aud"] != "http://"+r.Host+"/token" {
			t.Errorf("aud = %v", claims["aud"])
		}
		issued, expires := claims["iat"].(float64), claims["exp"].(float64)
		if int64(issued) != epoch.Unix() || expires-issued != 3600 {
			t.Errorf("iat = %v, exp = %v", issued, expires)
		}
		fmt.Fprint(w, `{"access_token":"ya29.exchanged","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	var keyJSON []byte
	keyJSON, publicKey = generateKeyJSON(t, server.URL+"/token")
	fetcher := newFetcher(t, keyJSON, fakeClock)

	if fetcher.ProjectID() != "example-project" || fetcher.Email() == "" {
		t.Errorf("ProjectID = %q, Email = %q", fetcher.ProjectID(), fetcher.Email())
	}

	credential, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if credential.Token != "ya29.exchanged" || credential.Source != SourceServiceAccount {
		t.Errorf("credential = %+v", credential)
	}
	if credential.Lifetime() != time.Hour || !credential.IssuedAt.Equal(epoch) {
		t.Errorf("lifetime = %v, issued = %v", credential.Lifetime(), credential.IssuedAt)
	}
}

func TestServiceAccountFetchErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, test := range tests {
		t.Run(http.StatusText(test.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"invalid_grant"}`, test.status)
			}))
			defer server.Close()

			keyJSON, _ := generateKeyJSON(t, server.URL)
			fetcher := newFetcher(t, keyJSON, clock.Fake(epoch))

			_, err := fetcher.Fetch(context.Background())
			var tokenErr *TokenError
			if !errors.As(err, &tokenErr) {
				t.Fatalf("error = %v, want *TokenError", err)
			}
			if IsTransient(err) != test.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), test.transient)
			}
			if !strings.Contains(tokenErr.Body, "invalid_grant") {
				t.Errorf("Body = %q", tokenErr.Body)
			}
		})
	}
}

func TestNewServiceAccountFetcherValidation(t *testing.T) {
	tests := map[string]string{
		"not json":      `nope`,
		"wrong type":    `{"type":"authorized_user","client_email":"a","private_key":"b"}`,
		"missing email": `{"type":"service_account","private_key":"b"}`,
		"not pem":       `{"type":"service_account","client_email":"a","private_key":"b"}`,
	}
	for name, keyJSON := range tests {
		t.Run(name, func(t *testing.T) {
			key, err := secret.NewFromBytes([]byte(keyJSON))
			if err != nil {
				t.Fatalf("NewFromBytes: %v", err)
			}
			defer key.Close()
			if _, err := NewServiceAccountFetcher(key, nil, nil); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestDefaultTokenURI(t *testing.T) {
	keyJSON, _ := generateKeyJSON(t, "")
	fetcher := newFetcher(t, keyJSON, clock.Fake(epoch))
	if fetcher.tokenURI != DefaultTokenURI {
		t.Errorf("tokenURI = %q, want %q", fetcher.tokenURI, DefaultTokenURI)
	}
}

func TestLoadServiceAccountKey(t *testing.T) {
	directory := t.TempDir()
	keyJSON, _ := generateKeyJSON(t, "")

	plainPath := filepath.Join(directory, "key.json")
	if err := os.WriteFile(plainPath, keyJSON, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	plain, err := LoadServiceAccountKey(plainPath, "")
	if err != nil {
		t.Fatalf("LoadServiceAccountKey(plain): %v", err)
	}
	defer plain.Close()
	if plain.String() != string(keyJSON) {
		t.Error("plain key contents differ")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()
	identityPath := filepath.Join(directory, "identity.txt")
	if err := os.WriteFile(identityPath, []byte(keypair.PrivateKey.String()+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ciphertext, err := sealed.Encrypt(keyJSON, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sealedPath := plainPath + sealed.Suffix
	if err := os.WriteFile(sealedPath, ciphertext, 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	unsealed, err := LoadServiceAccountKey(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("LoadServiceAccountKey(sealed): %v", err)
	}
	defer unsealed.Close()
	if unsealed.String() != string(keyJSON) {
		t.Error("unsealed key contents differ")
	}

	if _, err := LoadServiceAccountKey(sealedPath, ""); err == nil {
		t.Error("sealed key without identity should fail")
	}
}

func TestMetadataFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"ya29.metadata","expires_in":1800}`)
	}))
	defer server.Close()

	fakeClock := clock.Fake(epoch)
	fetcher := NewMetadataFetcher(metadata.NewClient(server.URL, server.Client()), fakeClock)
	credential, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if credential.Token != "ya29.metadata" || credential.Source != SourceMetadata {
		t.Errorf("credential = %+v", credential)
	}
	if !credential.ExpiresAt.Equal(epoch.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", credential.ExpiresAt)
	}
}

func TestMetadataFetcherTransientFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewMetadataFetcher(metadata.NewClient(server.URL, server.Client()), clock.Fake(epoch))
	_, err := fetcher.Fetch(context.Background())
	if err == nil || !IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
}
