package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, exp, err := Generate(opts, "u1")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	sub, err := VerifySubject(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("secret-a")), "u1")
	require.NoError(t, err)

	_, err = VerifySubject(DefaultOptions([]byte("secret-b")), token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	past := time.Now().Add(-time.Hour)
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "u1",
		"iat": past.Unix(),
		"exp": past.Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = VerifySubject(opts, signed)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	for _, tok := range []string{"", "   ", "not.a.jwt", "a.b"} {
		_, err := VerifySubject(opts, tok)
		assert.Error(t, err, "token %q must be rejected", tok)
	}
}

func TestUnsupportedAlg(t *testing.T) {
	opts := Options{Secret: []byte("x"), Alg: "RS256"}
	_, _, err := Generate(opts, "u1")
	assert.Error(t, err)
	_, err = VerifySubject(opts, "whatever")
	assert.Error(t, err)
}
