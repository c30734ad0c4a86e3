package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Domain is the EIP-712 domain separator for order signatures.
// It stops a signature from being replayed against another deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain used by local devnets.
func DefaultDomain() Domain {
	return Domain{
		Name:              "CrossLedger",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// orderType fixes the field order of the signed struct.
var orderType = []apitypes.Type{
	{Name: "inputAmount", Type: "uint128"},
	{Name: "outputAmount", Type: "uint128"},
	{Name: "inputAsset", Type: "address"},
	{Name: "outputAsset", Type: "address"},
	{Name: "startTime", Type: "uint32"},
	{Name: "endTime", Type: "uint32"},
	{Name: "originLedgerId", Type: "uint32"},
	{Name: "destLedgerId", Type: "uint32"},
	{Name: "offerer", Type: "address"},
	{Name: "recipient", Type: "address"},
}

// OrderSigner builds and checks EIP-712 signatures over orders.
type OrderSigner struct {
	domain Domain
}

func NewOrderSigner(domain Domain) *OrderSigner {
	return &OrderSigner{domain: domain}
}

func (e *OrderSigner) Domain() Domain { return e.domain }

func (e *OrderSigner) typedData(o *order.Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Order":        orderType,
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"inputAmount":    o.InputAmount.Dec(),
			"outputAmount":   o.OutputAmount.Dec(),
			"inputAsset":     o.InputAsset.Hex(),
			"outputAsset":    o.OutputAsset.Hex(),
			"startTime":      fmt.Sprintf("%d", o.StartTime),
			"endTime":        fmt.Sprintf("%d", o.EndTime),
			"originLedgerId": fmt.Sprintf("%d", o.OriginLedger),
			"destLedgerId":   fmt.Sprintf("%d", o.DestLedger),
			"offerer":        o.Offerer.Hex(),
			"recipient":      o.Recipient.Hex(),
		},
	}
}

// HashOrder returns the digest an offerer signs.
// keccak256("\x19\x01" || domainSeparator || hashStruct(order))
func (e *OrderSigner) HashOrder(o *order.Order) ([]byte, error) {
	typedData := e.typedData(o)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// SignOrder signs an order with the given key.
func (e *OrderSigner) SignOrder(signer *Signer, o *order.Order) ([]byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// RecoverOrderSigner recovers the account that signed an order.
func (e *OrderSigner) RecoverOrderSigner(o *order.Order, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// VerifyOrderSignature checks that signature was produced by o.Offerer.
// Any failure, including a malformed signature, yields order.ErrInvalidSignature.
func (e *OrderSigner) VerifyOrderSignature(o *order.Order, signature []byte) error {
	signer, err := e.RecoverOrderSigner(o, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrInvalidSignature, err)
	}
	if signer != o.Offerer {
		return fmt.Errorf("%w: signed by %s, offerer is %s", order.ErrInvalidSignature, signer.Hex(), o.Offerer.Hex())
	}
	return nil
}

// OrderToJSON renders the typed data for eth_signTypedData_v4.
func (e *OrderSigner) OrderToJSON(o *order.Order) (string, error) {
	typedData := e.typedData(o)
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
