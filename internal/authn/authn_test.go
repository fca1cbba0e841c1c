package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func signToken(secret, sub string, exp int64) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, _ := json.Marshal(map[string]any{"sub": sub, "exp": exp})
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signed := header + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signed + "." + sig
}

func TestEnabled_EmptySecretDisablesEnforcement(t *testing.T) {
	require.False(t, New("").Enabled())
	require.True(t, New("s3cr3t").Enabled())
}

func TestVerify_ValidTokenReturnsSubject(t *testing.T) {
	v := New("s3cr3t")
	token := signToken("s3cr3t", "user-42", time.Now().Add(time.Hour).Unix())
	sub, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", sub)
}

func TestVerify_RejectsWrongSignature(t *testing.T) {
	v := New("s3cr3t")
	token := signToken("wrong-secret", "user-42", time.Now().Add(time.Hour).Unix())
	_, err := v.Verify(token)
	require.Error(t, err)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	v := New("s3cr3t")
	token := signToken("s3cr3t", "user-42", time.Now().Add(-time.Hour).Unix())
	_, err := v.Verify(token)
	require.ErrorContains(t, err, "expired")
}

func TestVerify_RejectsMalformedToken(t *testing.T) {
	v := New("s3cr3t")
	_, err := v.Verify("not-a-jwt")
	require.Error(t, err)
}

func TestVerify_ZeroExpMeansNoExpiry(t *testing.T) {
	v := New("s3cr3t")
	token := signToken("s3cr3t", "user-1", 0)
	sub, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)
}

func TestVerifyRequest_ExtractsBearerToken(t *testing.T) {
	v := New("s3cr3t")
	token := signToken("s3cr3t", "user-7", time.Now().Add(time.Hour).Unix())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	sub, err := v.VerifyRequest(req)
	require.NoError(t, err)
	require.Equal(t, "user-7", sub)
}

func TestVerifyRequest_MissingHeaderErrors(t *testing.T) {
	v := New("s3cr3t")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := v.VerifyRequest(req)
	require.Error(t, err)
}
