package core

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// Principal is the identity a request acts as.
type Principal struct {
	CredentialID int64
	Name         string
	UserID       *int64
}

// Authenticator resolves Authorization header values to principals.
type Authenticator struct {
	store  CredentialStore
	pepper []byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. With an empty pepper keys are
// digested with plain SHA-256.
func NewAuthenticator(store CredentialStore, pepper string) *Authenticator {
	a := &Authenticator{store: store, now: time.Now}
	if pepper != "" {
		a.pepper = []byte(pepper)
	}
	return a
}

// Digest returns the stored form of a raw key.
func (a *Authenticator) Digest(key string) string {
	return DigestKey(key, a.pepper)
}

// DigestKey is hex(HMAC-SHA256(pepper, key)), or hex(SHA-256(key)) without a pepper.
func DigestKey(key string, pepper []byte) string {
	if len(pepper) == 0 {
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// ExtractToken strips an optional "Bearer " prefix and surrounding whitespace.
func ExtractToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) >= 6 && strings.EqualFold(token[:6], "bearer") && (len(token) == 6 || token[6] == ' ') {
		token = token[6:]
	}
	return strings.TrimSpace(token)
}

// Authenticate resolves header to a principal and stamps the credential's
// last use. The raw key is never logged.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	token := ExtractToken(header)
	if token == "" {
		return Principal{}, ErrUnauthorized
	}

	cred, err := a.store.FindActiveCredential(ctx, a.Digest(token))
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		return Principal{}, fmt.Errorf("find credential: %w", err)
	}

	if err := a.store.TouchCredential(ctx, cred.ID, a.now()); err != nil {
		logging.FromContext(ctx).Warn("failed to record credential use",
			"credential_id", cred.ID,
			"error", err,
		)
	}

	return Principal{CredentialID: cred.ID, Name: cred.Name, UserID: cred.UserID}, nil
}

// GenerateKey returns a new random API key: 32 bytes, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EnsureCredential registers key under name unless an active credential with
// the same digest exists. It reports whether a credential was created.
func (a *Authenticator) EnsureCredential(ctx context.Context, admin Admin, name, key string) (bool, error) {
	digest := a.Digest(key)
	_, err := a.store.FindActiveCredential(ctx, digest)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("find credential: %w", err)
	}
	if _, err := admin.CreateCredential(ctx, name, digest, nil); err != nil {
		return false, fmt.Errorf("create credential %s: %w", name, err)
	}
	return true, nil
}
