package timestamp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// LocalSigner issues HMAC-signed tokens without an external authority. It is
// meant for development and tests; the token still binds digest and time and
// can be verified by anyone holding the secret.
type LocalSigner struct {
	secret []byte
	now    func() time.Time
}

// NewLocalSigner creates a signer with the given shared secret.
func NewLocalSigner(secret string) *LocalSigner {
	return &LocalSigner{secret: []byte(secret), now: time.Now}
}

type localToken struct {
	Digest    []byte `json:"digest"`
	SignedAt  string `json:"signedAt"`
	Signature []byte `json:"signature"`
}

// Timestamp signs the digest with the current time.
func (s *LocalSigner) Timestamp(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) == 0 {
		return nil, fmt.Errorf("cannot timestamp an empty digest")
	}
	signedAt := s.now().UTC().Format(time.RFC3339Nano)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(digest)
	mac.Write([]byte(signedAt))

	token, err := json.Marshal(localToken{
		Digest:    digest,
		SignedAt:  signedAt,
		Signature: mac.Sum(nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}
	return token, nil
}

// Verify checks a token produced by Timestamp against a digest.
func (s *LocalSigner) Verify(token, digest []byte) bool {
	var tk localToken
	if err := json.Unmarshal(token, &tk); err != nil {
		return false
	}
	if !hmac.Equal(tk.Digest, digest) {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(tk.Digest)
	mac.Write([]byte(tk.SignedAt))
	return hmac.Equal(mac.Sum(nil), tk.Signature)
}
