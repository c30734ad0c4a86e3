package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/params"
	"github.com/uhyunpark/crossledger/pkg/api"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/crypto"
)

// sign-order builds and signs an order against the node's EIP-712 domain and
// prints the body for POST /api/v1/deposits.
//
// Order fields come from the environment (or .env):
//
//	PRIVATE_KEY    offerer key; a fresh one is generated when unset
//	DEST_LEDGER    destination ledger (default: LEDGER_ID)
//	INPUT_ASSET    INPUT_AMOUNT   OUTPUT_ASSET   OUTPUT_AMOUNT
//	RECIPIENT      defaults to the offerer
//	TTL_SECONDS    order lifetime (default 3600)
func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fail("config", err)
	}

	// Step 1: Generate or load key
	var signer *crypto.Signer
	if k := os.Getenv("PRIVATE_KEY"); k != "" {
		signer, err = crypto.FromPrivateKeyHex(k)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if os.Getenv("PRIVATE_KEY") == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Create order
	o, err := buildOrder(cfg, signer.Address())
	if err != nil {
		fail("order", err)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Ledgers: %d -> %d\n", o.OriginLedger, o.DestLedger)
	fmt.Printf("  Input: %s of %s\n", o.InputAmount.Dec(), o.InputAsset.Hex())
	fmt.Printf("  Output: %s of %s\n", o.OutputAmount.Dec(), o.OutputAsset.Hex())
	fmt.Printf("  Window: %d .. %d\n", o.StartTime, o.EndTime)
	fmt.Printf("  Recipient: %s\n", o.Recipient.Hex())
	fmt.Printf("  Order ID: %s\n\n", o.ID().Hex())

	// Step 3: Sign with the node's domain
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Ledger.ChainID)
	domain.VerifyingContract = cfg.Ledger.VerifyingContract
	orderSigner := crypto.NewOrderSigner(domain)

	typed, err := orderSigner.OrderToJSON(o)
	if err != nil {
		fail("typed data", err)
	}
	fmt.Println("Typed Data (eth_signTypedData_v4):")
	fmt.Println(typed)
	fmt.Println()

	signature, err := orderSigner.SignOrder(signer, o)
	if err != nil {
		fail("sign", err)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Step 4: Verify before handing it out
	if err := orderSigner.VerifyOrderSignature(o, signature); err != nil {
		fmt.Printf("✗ Signature INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Println()

	// Step 5: Show how to submit to the API
	body, err := json.MarshalIndent(api.DepositRequest{
		Caller:    o.Offerer,
		Order:     wireOrder(o),
		Signature: signature,
	}, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println("To deposit this order:")
	fmt.Printf("  POST http://localhost%s/api/v1/deposits\n", cfg.Node.APIAddr)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}

func buildOrder(cfg params.Config, offerer common.Address) (*order.Order, error) {
	dest := cfg.Ledger.ID
	if s := os.Getenv("DEST_LEDGER"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("DEST_LEDGER: %w", err)
		}
		dest = order.LedgerID(v)
	}
	ttl := uint64(3600)
	if s := os.Getenv("TTL_SECONDS"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("TTL_SECONDS: %w", err)
		}
		ttl = v
	}

	in, err := amountEnv("INPUT_AMOUNT", "1000000")
	if err != nil {
		return nil, err
	}
	out, err := amountEnv("OUTPUT_AMOUNT", "1000000")
	if err != nil {
		return nil, err
	}

	recipient := offerer
	if s := os.Getenv("RECIPIENT"); s != "" {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("RECIPIENT: invalid address %q", s)
		}
		recipient = common.HexToAddress(s)
	}

	now := uint32(time.Now().Unix())
	o := &order.Order{
		InputAmount:  in,
		OutputAmount: out,
		InputAsset:   common.HexToAddress(envOr("INPUT_ASSET", "0x000000000000000000000000000000000000000a")),
		OutputAsset:  common.HexToAddress(envOr("OUTPUT_ASSET", "0x000000000000000000000000000000000000000b")),
		StartTime:    now,
		EndTime:      now + uint32(ttl),
		OriginLedger: cfg.Ledger.ID,
		DestLedger:   dest,
		Offerer:      offerer,
		Recipient:    recipient,
	}
	return o, order.Validate(o)
}

func wireOrder(o *order.Order) api.Order {
	return api.Order{
		InputAmount:  o.InputAmount.Dec(),
		OutputAmount: o.OutputAmount.Dec(),
		InputAsset:   o.InputAsset,
		OutputAsset:  o.OutputAsset,
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		OriginLedger: uint32(o.OriginLedger),
		DestLedger:   uint32(o.DestLedger),
		Offerer:      o.Offerer,
		Recipient:    o.Recipient,
	}
}

func amountEnv(key, fallback string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(envOr(key, fallback))
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%s: %w", key, err)
	}
	return *v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(step string, err error) {
	fmt.Printf("Error (%s): %v\n", step, err)
	os.Exit(1)
}
