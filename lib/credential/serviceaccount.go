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
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/netutil"
	"github.com/bureau-foundation/journalrelay/lib/sealed"
	"github.com/bureau-foundation/journalrelay/lib/secret"
)

// LoggingWriteScope is the OAuth scope requested for the relay's
// tokens.
const LoggingWriteScope = "https://www.googleapis.com/auth/logging.write"

// DefaultTokenURI is used when a key file omits token_uri.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
	maxKeyFileSize     = 64 << 10
)

// TokenError is a failed token exchange.
type TokenError struct {
	StatusCode int // 0 for transport failures
	Body       string
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("token exchange: %v", e.Err)
	}
	return fmt.Sprintf("token exchange: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Transient reports whether the exchange may succeed on retry.
func (e *TokenError) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// serviceAccountKeyFile is the subset of a Google service-account JSON
// key the relay uses.
type serviceAccountKeyFile struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// ServiceAccountFetcher exchanges signed JWT assertions for access
// tokens.
type ServiceAccountFetcher struct {
	key        *secret.Buffer
	email      string
	keyID      string
	tokenURI   string
	projectID  string
	httpClient *http.Client
	clock      clock.Clock
}

// NewServiceAccountFetcher validates a service-account key and returns
// a fetcher that signs with it. The fetcher takes ownership of key.
func NewServiceAccountFetcher(key *secret.Buffer, httpClient *http.Client, clk clock.Clock) (*ServiceAccountFetcher, error) {
	parsed, err := parseKeyFile(key)
	if err != nil {
		return nil, err
	}
	if _, err := parsePrivateKey(parsed.PrivateKey); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if clk == nil {
		clk = clock.Real()
	}
	tokenURI := parsed.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}
	return &ServiceAccountFetcher{
		key:        key,
		email:      parsed.ClientEmail,
		keyID:      parsed.PrivateKeyID,
		tokenURI:   tokenURI,
		projectID:  parsed.ProjectID,
		httpClient: httpClient,
		clock:      clk,
	}, nil
}

// LoadServiceAccountKey reads a key file into a secret.Buffer. Files
// ending in ".age" are decrypted with the identity at identityPath.
func LoadServiceAccountKey(path, identityPath string) (*secret.Buffer, error) {
	if !sealed.IsSealed(path) {
		key, err := secret.ReadFile(path, maxKeyFileSize)
		if err != nil {
			return nil, fmt.Errorf("reading service account key: %w", err)
		}
		return key, nil
	}
	if identityPath == "" {
		return nil, fmt.Errorf("service account key %s is sealed but no age identity is configured", path)
	}
	identity, err := sealed.ReadIdentity(identityPath)
	if err != nil {
		return nil, err
	}
	defer identity.Close()
	key, err := sealed.DecryptFile(path, identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing service account key: %w", err)
	}
	return key, nil
}

// Email returns the service account's client_email.
func (f *ServiceAccountFetcher) Email() string { return f.email }

// ProjectID returns the project_id recorded in the key file.
func (f *ServiceAccountFetcher) ProjectID() string { return f.projectID }

// Close releases the private key.
func (f *ServiceAccountFetcher) Close() error { return f.key.Close() }

// Fetch signs a fresh assertion and exchanges it for an access token.
func (f *ServiceAccountFetcher) Fetch(ctx context.Context) (Credential, error) {
	now := f.clock.Now()
	assertion, err := f.Assertion(now)
	if err != nil {
		return Credential{}, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("building token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := f.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return Credential{}, ctx.Err()
		}
		return Credential{}, &TokenError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Credential{}, &TokenError{
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := netutil.DecodeResponse(response.Body, &token); err != nil {
		return Credential{}, &TokenError{StatusCode: response.StatusCode, Err: fmt.Errorf("decoding token response: %w", err)}
	}
	if token.AccessToken == "" || token.ExpiresIn <= 0 {
		return Credential{}, errors.New("token response is missing access_token or expires_in")
	}
	return Credential{
		Token:     token.AccessToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(token.ExpiresIn) * time.Second),
		Source:    SourceServiceAccount,
	}, nil
}

// Assertion returns a signed RS256 JWT asserting the service account's
// identity for the logging.write scope, issued at now.
func (f *ServiceAccountFetcher) Assertion(now time.Time) (string, error) {
	parsed, err := parseKeyFile(f.key)
	if err != nil {
		return "", err
	}
	privateKey, err := parsePrivateKey(parsed.PrivateKey)
	if err != nil {
		return "", err
	}

	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	if f.keyID != "" {
		header["kid"] = f.keyID
	}
	claims := map[string]any{
		"iss":   f.email,
		"scope": LoggingWriteScope,
		"aud":   f.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encoding JWT header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding JWT claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing JWT assertion: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func parseKeyFile(key *secret.Buffer) (serviceAccountKeyFile, error) {
	var parsed serviceAccountKeyFile
	if err := json.Unmarshal(key.Bytes(), &parsed); err != nil {
		return serviceAccountKeyFile{}, fmt.Errorf("parsing service account key: %w", err)
	}
	if parsed.Type != "" && parsed.Type != "service_account" {
		return serviceAccountKeyFile{}, fmt.Errorf("key type is %q, want service_account", parsed.Type)
	}
	if parsed.ClientEmail == "" || parsed.PrivateKey == "" {
		return serviceAccountKeyFile{}, errors.New("service account key is missing client_email or private_key")
	}
	return parsed, nil
}

func parsePrivateKey(encoded string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil {
		return nil, errors.New("service account private_key is not PEM encoded")
	}
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("service account private key is %T, want RSA", parsed)
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 private key: %w", err)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
