package timestamp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSignerRoundTrip(t *testing.T) {
	signer := NewLocalSigner("test-secret")
	digest := sha256.Sum256([]byte("merkle root"))

	token, err := signer.Timestamp(context.Background(), digest[:])
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, signer.Verify(token, digest[:]))
}

func TestLocalSignerRejectsWrongDigest(t *testing.T) {
	signer := NewLocalSigner("test-secret")
	digest := sha256.Sum256([]byte("merkle root"))
	other := sha256.Sum256([]byte("another root"))

	token, err := signer.Timestamp(context.Background(), digest[:])
	require.NoError(t, err)

	assert.False(t, signer.Verify(token, other[:]))
}

func TestLocalSignerRejectsWrongSecret(t *testing.T) {
	signer := NewLocalSigner("test-secret")
	digest := sha256.Sum256([]byte("merkle root"))

	token, err := signer.Timestamp(context.Background(), digest[:])
	require.NoError(t, err)

	assert.False(t, NewLocalSigner("other-secret").Verify(token, digest[:]))
}

func TestLocalSignerEmptyDigest(t *testing.T) {
	signer := NewLocalSigner("test-secret")
	_, err := signer.Timestamp(context.Background(), nil)
	assert.Error(t, err)
}

func TestHTTPProvider(t *testing.T) {
	digest := sha256.Sum256([]byte("merkle root"))
	issued := []byte("opaque-token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req timestampRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, base64.StdEncoding.EncodeToString(digest[:]), req.Digest)
		json.NewEncoder(w).Encode(timestampResponse{Token: issued})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, 5*time.Second)
	token, err := provider.Timestamp(context.Background(), digest[:])
	require.NoError(t, err)
	assert.Equal(t, issued, token)
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authority down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, 5*time.Second)
	_, err := provider.Timestamp(context.Background(), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestHTTPProviderEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(timestampResponse{})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, 5*time.Second)
	_, err := provider.Timestamp(context.Background(), []byte{1, 2, 3})
	assert.Error(t, err)
}
