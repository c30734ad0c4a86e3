package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	s1, err := GenerateKey()
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, s1.Address())
	require.Len(t, s1.PrivateKeyHex(), 64)

	for _, key := range []string{s1.PrivateKeyHex(), "0x" + s1.PrivateKeyHex()} {
		s2, err := FromPrivateKeyHex(key)
		require.NoError(t, err)
		assert.Equal(t, s1.Address(), s2.Address())
	}

	_, err = FromPrivateKeyHex("0xnothex")
	assert.Error(t, err)
}

func TestSignRecover(t *testing.T) {
	signer, _ := GenerateKey()
	digest := eth_crypto.Keccak256([]byte("order digest"))

	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	got, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)

	// A different digest recovers some other key, never an error-free match.
	other, err := RecoverAddress(eth_crypto.Keccak256([]byte("tampered")), sig)
	if err == nil {
		assert.NotEqual(t, signer.Address(), other)
	}

	_, err = signer.Sign([]byte("short"))
	assert.Error(t, err)
}

func TestRecoverWalletStyleV(t *testing.T) {
	signer, _ := GenerateKey()
	digest := eth_crypto.Keccak256([]byte("wallet"))
	sig, _ := signer.Sign(digest)
	sig[64] += 27

	got, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)
	assert.GreaterOrEqual(t, sig[64], byte(27), "caller's signature was modified")
}

func TestRecoverRejectsMalformed(t *testing.T) {
	digest := eth_crypto.Keccak256([]byte("x"))
	tests := map[string]struct {
		hash, sig []byte
	}{
		"short signature": {digest, []byte{1, 2, 3}},
		"short hash":      {[]byte("short"), make([]byte, SignatureLength)},
		"zero signature":  {digest, make([]byte, SignatureLength)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := RecoverAddress(tc.hash, tc.sig)
			assert.Error(t, err)
		})
	}
}
