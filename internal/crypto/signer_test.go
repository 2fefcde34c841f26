package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSigner_Address(t *testing.T) {
	s, err := NewSigner(testKey, 31337)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	_, err = NewSigner("0xnothex", 1)
	require.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewSigner(testKey, 31337)
	require.NoError(t, err)
	sig, err := s.SignRequest("post", "/api/purchases", 1_700_000_000, 7)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))
	require.Len(t, sig, 2+130)

	v := NewVerifier(31337)
	auth := RequestAuth{
		Caller:    s.Address(),
		Method:    "POST",
		Path:      "/api/purchases",
		Timestamp: 1_700_000_000,
		Nonce:     7,
	}
	require.NoError(t, v.Verify(auth, sig))

	tampered := []func(*RequestAuth){
		func(a *RequestAuth) { a.Path = "/api/listings" },
		func(a *RequestAuth) { a.Method = "DELETE" },
		func(a *RequestAuth) { a.Timestamp++ },
		func(a *RequestAuth) { a.Nonce++ },
		func(a *RequestAuth) { a.Caller = common.HexToAddress("0xb1") },
	}
	for i, mutate := range tampered {
		a := auth
		mutate(&a)
		assert.ErrorIs(t, v.Verify(a, sig), ErrBadSignature, "mutation %d", i)
	}

	assert.ErrorIs(t, NewVerifier(1).Verify(auth, sig), ErrBadSignature, "other chain")
}

func TestVerify_Malformed(t *testing.T) {
	v := NewVerifier(1)
	a := RequestAuth{Caller: common.HexToAddress("0x01")}
	for _, sig := range []string{"", "0x1234", "zz" + strings.Repeat("0", 128), "0x" + strings.Repeat("0", 128) + "05"} {
		assert.ErrorIs(t, v.Verify(a, sig), ErrBadSignature, sig)
	}
}

func TestGenerateSigner(t *testing.T) {
	s, err := GenerateSigner(5)
	require.NoError(t, err)
	sig, err := s.SignRequest("GET", "/api/pool", 1, 1)
	require.NoError(t, err)
	require.NoError(t, NewVerifier(5).Verify(RequestAuth{
		Caller: s.Address(), Method: "GET", Path: "/api/pool", Timestamp: 1, Nonce: 1,
	}, sig))
}
