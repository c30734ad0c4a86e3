package bus

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Envelope is the transport frame around one payload.
type Envelope struct {
	Sender      order.LedgerID
	Dest        order.LedgerID
	Seq         uint64
	Payload     []byte
	Attestation []byte
}

// ID is keccak256(sender ‖ dest ‖ seq ‖ payload).
func (e *Envelope) ID() common.Hash {
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(e.Sender))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(e.Dest))
	binary.BigEndian.PutUint64(hdr[8:16], e.Seq)

	h := sha3.NewLegacyKeccak256()
	h.Write(hdr[:])
	h.Write(e.Payload)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func encodeEnvelope(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// sequencer hands out per-process message sequence numbers. Seeding from the
// clock keeps ids distinct across restarts.
type sequencer struct{ n atomic.Uint64 }

func newSequencer() *sequencer {
	s := &sequencer{}
	s.n.Store(uint64(time.Now().UnixNano()))
	return s
}

func (s *sequencer) next() uint64 { return s.n.Add(1) }

// endpoint holds what every adapter shares: identity, fees, attestation and
// the inbound handler.
type endpoint struct {
	self     order.LedgerID
	fees     FeeSchedule
	attester Attester
	verifier Verifier
	seq      *sequencer

	handler atomic.Pointer[Handler]
}

func (p *endpoint) init(self order.LedgerID, fees FeeSchedule, a Attester, v Verifier) {
	p.self, p.fees, p.attester, p.verifier = self, fees, a, v
	p.seq = newSequencer()
}

// Self is the local ledger id.
func (p *endpoint) Self() order.LedgerID { return p.self }

// SetHandler installs the inbound handler.
func (p *endpoint) SetHandler(h Handler) { p.handler.Store(&h) }

func (p *endpoint) QuoteFee(_ order.LedgerID, size int, opts DeliveryOptions) (Fee, error) {
	return p.fees.Quote(size, opts)
}

// seal quotes, frames and attests an outbound payload.
func (p *endpoint) seal(dest order.LedgerID, payload []byte, opts DeliveryOptions) (*Envelope, Receipt, error) {
	fee, err := p.fees.Quote(len(payload), opts)
	if err != nil {
		return nil, Receipt{}, err
	}
	env := &Envelope{
		Sender:  p.self,
		Dest:    dest,
		Seq:     p.seq.next(),
		Payload: bytes.Clone(payload),
	}
	id := env.ID()
	if p.attester != nil {
		env.Attestation = p.attester.Attest(id[:])
	}
	return env, Receipt{MessageID: id, Fee: fee}, nil
}

// accept checks an inbound envelope and hands it to the handler.
func (p *endpoint) accept(ctx context.Context, env *Envelope) error {
	if env.Dest != p.self {
		return fmt.Errorf("envelope for ledger %d at %d: %w", env.Dest, p.self, ErrMisrouted)
	}
	id := env.ID()
	if p.verifier != nil && !p.verifier.Verify(env.Sender, id[:], env.Attestation) {
		return fmt.Errorf("message %s from ledger %d: %w", id.Hex(), env.Sender, ErrUnattested)
	}
	h := p.handler.Load()
	if h == nil {
		return fmt.Errorf("message %s: no handler installed", id.Hex())
	}
	return (*h)(ctx, env.Sender, env.Payload)
}
