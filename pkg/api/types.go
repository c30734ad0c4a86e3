package api

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/app/ledger"
	"github.com/uhyunpark/crossledger/pkg/bus"
)

// API request and response types. Amounts travel as decimal strings since
// they may exceed 2^53.

// ==============================
// Shared Types
// ==============================

// Order is the wire form of order.Order.
type Order struct {
	InputAmount  string         `json:"inputAmount" validate:"required,numeric"`
	OutputAmount string         `json:"outputAmount" validate:"required,numeric"`
	InputAsset   common.Address `json:"inputAsset"`
	OutputAsset  common.Address `json:"outputAsset"`
	StartTime    uint32         `json:"startTime"`
	EndTime      uint32         `json:"endTime"`
	OriginLedger uint32         `json:"originLedger"`
	DestLedger   uint32         `json:"destLedger"`
	Offerer      common.Address `json:"offerer"`
	Recipient    common.Address `json:"recipient"`
}

func (o Order) toOrder() (order.Order, error) {
	in, err := parseAmount("inputAmount", o.InputAmount)
	if err != nil {
		return order.Order{}, err
	}
	out, err := parseAmount("outputAmount", o.OutputAmount)
	if err != nil {
		return order.Order{}, err
	}
	return order.Order{
		InputAmount:  in,
		OutputAmount: out,
		InputAsset:   o.InputAsset,
		OutputAsset:  o.OutputAsset,
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		OriginLedger: order.LedgerID(o.OriginLedger),
		DestLedger:   order.LedgerID(o.DestLedger),
		Offerer:      o.Offerer,
		Recipient:    o.Recipient,
	}, nil
}

func fromOrder(o *order.Order) Order {
	return Order{
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

// DeliveryOptions is the wire form of bus.DeliveryOptions. Empty strings
// mean zero (NativeDrop) or no cap (MaxFee).
type DeliveryOptions struct {
	GasLimit   uint64 `json:"gasLimit,omitempty"`
	NativeDrop string `json:"nativeDrop,omitempty" validate:"omitempty,numeric"`
	MaxFee     string `json:"maxFee,omitempty" validate:"omitempty,numeric"`
}

func (d DeliveryOptions) toOptions() (bus.DeliveryOptions, error) {
	opts := bus.DeliveryOptions{GasLimit: d.GasLimit}
	if d.NativeDrop != "" {
		v, err := parseAmount("nativeDrop", d.NativeDrop)
		if err != nil {
			return bus.DeliveryOptions{}, err
		}
		opts.NativeDrop = v
	}
	if d.MaxFee != "" {
		v, err := parseAmount("maxFee", d.MaxFee)
		if err != nil {
			return bus.DeliveryOptions{}, err
		}
		opts.MaxFee = &v
	}
	return opts, nil
}

type SrcHook struct {
	Target        common.Address `json:"target"`
	Instructions  hexutil.Bytes  `json:"instructions,omitempty"`
	DepositAsset  common.Address `json:"depositAsset"`
	DepositAmount string         `json:"depositAmount" validate:"required,numeric"`
}

type DstHook struct {
	Target       common.Address `json:"target"`
	Instructions hexutil.Bytes  `json:"instructions,omitempty"`
	FillAsset    common.Address `json:"fillAsset"`
	FillAmount   string         `json:"fillAmount" validate:"required,numeric"`
}

func (h *SrcHook) toHook() (*hook.SrcHook, error) {
	if h == nil {
		return nil, nil
	}
	amt, err := parseAmount("depositAmount", h.DepositAmount)
	if err != nil {
		return nil, err
	}
	return &hook.SrcHook{Target: h.Target, Instructions: h.Instructions, DepositAsset: h.DepositAsset, DepositAmount: amt}, nil
}

func (h *DstHook) toHook() (*hook.DstHook, error) {
	if h == nil {
		return nil, nil
	}
	amt, err := parseAmount("fillAmount", h.FillAmount)
	if err != nil {
		return nil, err
	}
	return &hook.DstHook{Target: h.Target, Instructions: h.Instructions, FillAsset: h.FillAsset, FillAmount: amt}, nil
}

func parseAmount(field, s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%s: invalid decimal amount %q", field, s)
	}
	return *v, nil
}

// ==============================
// REST Request Types
// ==============================

// Caller identities are asserted by the submitter. The API is an operator
// surface; authenticity of orders comes from the offerer's signature.

// DepositRequest is the payload for POST /api/v1/deposits
type DepositRequest struct {
	Caller    common.Address `json:"caller"`
	Order     Order          `json:"order"`
	Signature hexutil.Bytes  `json:"signature" validate:"len=65"`
	SrcHook   *SrcHook       `json:"srcHook,omitempty"`
}

// FillRequest is the payload for POST /api/v1/fills
type FillRequest struct {
	Filler  common.Address `json:"filler"`
	Order   Order          `json:"order"`
	DstHook *DstHook       `json:"dstHook,omitempty"`
}

// CancelRequest is the payload for POST /api/v1/cancel and /api/v1/cancel-dest
type CancelRequest struct {
	Caller  common.Address  `json:"caller"`
	Order   Order           `json:"order"`
	Options DeliveryOptions `json:"options"`
}

// SettleRequest is the payload for POST /api/v1/settle
type SettleRequest struct {
	Filler  common.Address  `json:"filler"`
	Origin  uint32          `json:"origin"`
	Options DeliveryOptions `json:"options"`
}

// WithdrawRequest is the payload for POST /api/v1/withdrawals
type WithdrawRequest struct {
	Account common.Address `json:"account"`
	Asset   common.Address `json:"asset"`
	Amount  string         `json:"amount" validate:"required,numeric"`
}

// FaucetRequest is the payload for POST /api/v1/faucet (devnet only)
type FaucetRequest struct {
	Asset  common.Address `json:"asset"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount" validate:"required,numeric"`
}

// PauseRequest is the payload for POST /api/v1/admin/pause
type PauseRequest struct {
	Admin  common.Address `json:"admin"`
	Paused bool           `json:"paused"`
}

// EmergencyCancelRequest is the payload for POST /api/v1/admin/emergency-cancel
type EmergencyCancelRequest struct {
	Admin common.Address `json:"admin"`
	Order Order          `json:"order"`
}

// ==============================
// REST Response Types
// ==============================

type LedgerInfo struct {
	ID                uint32         `json:"id"`
	Custody           common.Address `json:"custody"`
	MaxFillsPerSettle int            `json:"maxFillsPerSettle"`
	ChainID           string         `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
	Paused            bool           `json:"paused"`
}

type OrderResponse struct {
	OrderID string `json:"orderId"`
}

type OrderState struct {
	OrderID      string `json:"orderId"`
	Order        *Order `json:"order,omitempty"`
	OriginStatus string `json:"originStatus"`
	DestStatus   string `json:"destStatus"`
}

func fromView(v ledger.OrderView) OrderState {
	s := OrderState{
		OrderID:      v.ID.Hex(),
		OriginStatus: v.OriginStatus.String(),
		DestStatus:   v.DestStatus.String(),
	}
	if v.Order != nil {
		o := fromOrder(v.Order)
		s.Order = &o
	}
	return s
}

type BalanceInfo struct {
	Account  common.Address `json:"account"`
	Asset    common.Address `json:"asset"`
	Locked   string         `json:"locked"`
	Unlocked string         `json:"unlocked"`
}

type PendingFills struct {
	Origin   uint32         `json:"origin"`
	Filler   common.Address `json:"filler"`
	OrderIDs []order.ID     `json:"orderIds"`
}

type Receipt struct {
	MessageID common.Hash `json:"messageId"`
	Fee       string      `json:"fee"`
}

func fromReceipt(r bus.Receipt) Receipt {
	return Receipt{MessageID: r.MessageID, Fee: r.Fee.Native.Dec()}
}

type SettleResponse struct {
	Receipt  Receipt    `json:"receipt"`
	OrderIDs []order.ID `json:"orderIds"`
}

type FeeQuote struct {
	Fee string `json:"fee"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`   // rejection class
	Message string `json:"message"` // human-readable detail
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string `json:"type"` // "event"
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "order:0x...", "account:0x..."]
}
