package crypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// Attestor signs outbound bus envelopes on behalf of one ledger, so receivers
// on an open transport can tell which ledger actually sent a message.
type Attestor struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewAttestorFromSeed derives a key pair from seed (at least 32 bytes).
func NewAttestorFromSeed(seed []byte) (*Attestor, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &Attestor{sk: sk, pk: sk.PublicKey()}, nil
}

func (a *Attestor) PublicKey() *BLSPubKey { return a.pk }

// PublicKeyHex is the 0x-prefixed form accepted by ParseBLSPubKey.
func (a *Attestor) PublicKeyHex() (string, error) {
	b, err := a.pk.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}

func (a *Attestor) Attest(msg []byte) []byte {
	return bls.Sign(a.sk, msg)
}

func ParseBLSPubKey(s string) (*BLSPubKey, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("bls public key: %w", err)
	}
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("bls public key: %w", err)
	}
	return pk, nil
}

func VerifyAttestation(pk *BLSPubKey, msg, sig []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}

// Keyring holds the attestation keys of known ledgers.
type Keyring map[order.LedgerID]*BLSPubKey

// Verify reports whether sig over msg was made by sender's key.
// Unknown senders never verify.
func (k Keyring) Verify(sender order.LedgerID, msg, sig []byte) bool {
	pk, ok := k[sender]
	if !ok {
		return false
	}
	return VerifyAttestation(pk, msg, sig)
}
