package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

func testOrder(offerer common.Address) order.Order {
	return order.Order{
		InputAmount:  *uint256.NewInt(100),
		OutputAmount: *uint256.NewInt(100),
		InputAsset:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		OutputAsset:  common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		StartTime:    1000,
		EndTime:      4600,
		OriginLedger: 1,
		DestLedger:   2,
		Offerer:      offerer,
		Recipient:    common.HexToAddress("0x00000000000000000000000000000000000000d4"),
	}
}

func TestSignAndVerifyOrder(t *testing.T) {
	key, _ := GenerateKey()
	es := NewOrderSigner(DefaultDomain())
	o := testOrder(key.Address())

	sig, err := es.SignOrder(key, &o)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := es.VerifyOrderSignature(&o, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	signer, err := es.RecoverOrderSigner(&o, sig)
	if err != nil || signer != key.Address() {
		t.Errorf("recovered %s (err %v), want %s", signer.Hex(), err, key.Address().Hex())
	}
}

// Changing any single field changes both the id and the digest, and the
// original signature no longer verifies.
func TestSignatureBindsEveryField(t *testing.T) {
	key, _ := GenerateKey()
	es := NewOrderSigner(DefaultDomain())
	base := testOrder(key.Address())
	baseHash, _ := es.HashOrder(&base)
	sig, _ := es.SignOrder(key, &base)

	mutations := map[string]func(o *order.Order){
		"inputAmount":  func(o *order.Order) { o.InputAmount.AddUint64(&o.InputAmount, 1) },
		"outputAmount": func(o *order.Order) { o.OutputAmount.AddUint64(&o.OutputAmount, 1) },
		"inputAsset":   func(o *order.Order) { o.InputAsset[0] ^= 1 },
		"outputAsset":  func(o *order.Order) { o.OutputAsset[0] ^= 1 },
		"startTime":    func(o *order.Order) { o.StartTime++ },
		"endTime":      func(o *order.Order) { o.EndTime++ },
		"origin":       func(o *order.Order) { o.OriginLedger++ },
		"dest":         func(o *order.Order) { o.DestLedger++ },
		"recipient":    func(o *order.Order) { o.Recipient[0] ^= 1 },
	}
	for name, mut := range mutations {
		t.Run(name, func(t *testing.T) {
			o := testOrder(key.Address())
			mut(&o)

			if o.ID() == base.ID() {
				t.Error("identifier unchanged")
			}
			h, err := es.HashOrder(&o)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if bytes.Equal(h, baseHash) {
				t.Error("digest unchanged")
			}
			if err := es.VerifyOrderSignature(&o, sig); !errors.Is(err, order.ErrInvalidSignature) {
				t.Errorf("verify = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerifyRejectsOtherSignerAndDomain(t *testing.T) {
	offerer, _ := GenerateKey()
	mallory, _ := GenerateKey()
	es := NewOrderSigner(DefaultDomain())
	o := testOrder(offerer.Address())

	forged, _ := es.SignOrder(mallory, &o)
	if err := es.VerifyOrderSignature(&o, forged); !errors.Is(err, order.ErrInvalidSignature) {
		t.Errorf("forged signature: got %v", err)
	}

	if err := es.VerifyOrderSignature(&o, []byte{1, 2, 3}); !errors.Is(err, order.ErrInvalidSignature) {
		t.Errorf("short signature: got %v", err)
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	sig, _ := es.SignOrder(offerer, &o)
	if err := NewOrderSigner(other).VerifyOrderSignature(&o, sig); !errors.Is(err, order.ErrInvalidSignature) {
		t.Errorf("cross-domain replay: got %v", err)
	}
}

func TestOrderToJSON(t *testing.T) {
	key, _ := GenerateKey()
	o := testOrder(key.Address())
	out, err := NewOrderSigner(DefaultDomain()).OrderToJSON(&o)
	if err != nil {
		t.Fatalf("json: %v", err)
	}

	var decoded struct {
		PrimaryType string                 `json:"primaryType"`
		Message     map[string]interface{} `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.PrimaryType != "Order" {
		t.Errorf("primaryType = %q", decoded.PrimaryType)
	}
	if decoded.Message["inputAmount"] != "100" {
		t.Errorf("inputAmount = %v", decoded.Message["inputAmount"])
	}
}
