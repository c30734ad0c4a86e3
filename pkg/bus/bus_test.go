package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/crypto"
)

func TestFeeSchedule(t *testing.T) {
	s := FeeSchedule{Base: 1000, PerByte: 10, PerGas: 2}
	opts := DeliveryOptions{GasLimit: 50}
	opts.NativeDrop.SetUint64(7)

	fee, err := s.Quote(33, opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000+330+100+7), fee.Native.Uint64())

	opts.MaxFee = uint256.NewInt(1000)
	_, err = s.Quote(33, opts)
	require.ErrorIs(t, err, ErrFeeTooHigh)
}

func TestEnvelopeID(t *testing.T) {
	a := Envelope{Sender: 1, Dest: 2, Seq: 9, Payload: []byte{1, 2, 3}}
	b := a
	assert.Equal(t, a.ID(), b.ID())

	b.Seq++
	assert.NotEqual(t, a.ID(), b.ID())

	c := a
	c.Dest = 3
	assert.NotEqual(t, a.ID(), c.ID())

	// attestation is not part of the id
	d := a
	d.Attestation = []byte{0xff}
	assert.Equal(t, a.ID(), d.ID())

	enc, err := encodeEnvelope(&a)
	require.NoError(t, err)
	dec, err := decodeEnvelope(enc)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), dec.ID())
}

type recorder struct {
	mu  sync.Mutex
	got []string
	err error
}

func (r *recorder) handler(tag string) Handler {
	return func(_ context.Context, sender order.LedgerID, payload []byte) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, tag+":"+string(payload))
		return r.err
	}
}

func TestMemoryNetworkControlsDelivery(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork(FeeSchedule{Base: 1})
	one := net.Join(1)
	two := net.Join(2)

	rec := &recorder{}
	two.SetHandler(rec.handler("two"))
	one.SetHandler(rec.handler("one"))

	r1, err := one.Send(ctx, 2, []byte("a"), DeliveryOptions{})
	require.NoError(t, err)
	r2, err := one.Send(ctx, 2, []byte("b"), DeliveryOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.MessageID, r2.MessageID)
	assert.Equal(t, uint64(1), r1.Fee.Native.Uint64())

	_, err = one.Send(ctx, 9, []byte("x"), DeliveryOptions{})
	require.ErrorIs(t, err, ErrUnknownLedger)

	pending := net.Pending()
	require.Len(t, pending, 2)

	// newest first
	require.NoError(t, net.Deliver(ctx, 1))
	require.NoError(t, net.Deliver(ctx, 0))
	assert.Equal(t, []string{"two:b", "two:a"}, rec.got)

	// duplicate delivery reaches the handler again
	require.NoError(t, net.Redeliver(ctx, pending[0]))
	assert.Equal(t, "two:a", rec.got[2])

	_, err = two.Send(ctx, 1, []byte("c"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, net.Drop(0))
	require.NoError(t, net.DeliverAll(ctx))
	assert.Len(t, rec.got, 3)
}

func TestMemoryNetworkCollectsHandlerErrors(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork(FeeSchedule{})
	one := net.Join(1)
	two := net.Join(2)
	boom := errors.New("boom")
	rec := &recorder{err: boom}
	two.SetHandler(rec.handler("two"))

	_, _ = one.Send(ctx, 2, []byte("a"), DeliveryOptions{})
	_, _ = one.Send(ctx, 2, []byte("b"), DeliveryOptions{})
	err := net.DeliverAll(ctx)
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.got, 2)
	assert.Empty(t, net.Pending())
}

func TestAcceptChecksRouteAndAttestation(t *testing.T) {
	ctx := context.Background()
	att1, _ := crypto.NewAttestorFromSeed(bytes.Repeat([]byte{1}, 32))
	att9, _ := crypto.NewAttestorFromSeed(bytes.Repeat([]byte{9}, 32))
	ring := crypto.Keyring{1: att1.PublicKey()}

	var sender endpoint
	sender.init(1, FeeSchedule{}, att1, nil)
	var receiver endpoint
	receiver.init(2, FeeSchedule{}, nil, ring)
	rec := &recorder{}
	receiver.SetHandler(rec.handler("r"))

	env, _, err := sender.seal(2, []byte("ok"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, receiver.accept(ctx, env))

	misrouted, _, _ := sender.seal(3, []byte("x"), DeliveryOptions{})
	require.ErrorIs(t, receiver.accept(ctx, misrouted), ErrMisrouted)

	// ledger 9 pretending to be ledger 1
	forged, _, _ := sender.seal(2, []byte("forged"), DeliveryOptions{})
	id := forged.ID()
	forged.Attestation = att9.Attest(id[:])
	require.ErrorIs(t, receiver.accept(ctx, forged), ErrUnattested)

	// payload tampering breaks the id the attestation covers
	tampered, _, _ := sender.seal(2, []byte("pay"), DeliveryOptions{})
	tampered.Payload = []byte("PAY")
	require.ErrorIs(t, receiver.accept(ctx, tampered), ErrUnattested)

	assert.Equal(t, []string{"r:ok"}, rec.got)
}

func TestToMessage(t *testing.T) {
	env := &Envelope{Sender: 1, Dest: 2, Seq: 3, Payload: []byte("p")}
	msg, err := toMessage(env)
	require.NoError(t, err)
	assert.Equal(t, "crossledger.ledger.2", msg.Topic)
	id := env.ID()
	assert.Equal(t, id.Bytes(), msg.Key)

	back, err := decodeEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, env.Payload, back.Payload)
}

func TestLibp2pRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewLibp2p(ctx, Libp2pConfig{Self: 1, ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewLibp2p(ctx, Libp2pConfig{Self: 2, ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer b.Close()

	rec := &recorder{}
	b.SetHandler(rec.handler("b"))
	require.NoError(t, a.Connect(ctx, b.Addrs()[0]))

	// gossip needs a moment to learn the peer's subscription
	require.Eventually(t, func() bool {
		if _, err := a.Send(ctx, 2, []byte("hello"), DeliveryOptions{}); err != nil {
			return false
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.got) > 0
	}, 15*time.Second, 250*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, "b:hello", rec.got[0])
	rec.mu.Unlock()
}

// kafkaRecord frames a sealed envelope from ledger 1 to ledger 2.
func kafkaRecord(t *testing.T, payload string) kafka.Message {
	var sender endpoint
	sender.init(1, FeeSchedule{}, nil, nil)
	env, _, err := sender.seal(2, []byte(payload), DeliveryOptions{})
	require.NoError(t, err)
	msg, err := toMessage(env)
	require.NoError(t, err)
	return msg
}

func newTestKafka(classify func(error) order.Class, h Handler) *Kafka {
	k := &Kafka{log: zap.NewNop(), classify: classify, retryDelay: time.Millisecond}
	k.init(2, FeeSchedule{}, nil, nil)
	k.SetHandler(h)
	return k
}

func TestKafkaHandleRetriesUntilApplied(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("pebble: disk full")

	tests := map[string]struct {
		fail  error
		tries int
	}{
		"storage failure": {fmt.Errorf("commit: %w", diskFull), 3},
		"retry later":     {order.ErrPaused, 3},
		"never valid":     {order.ErrInvalidSignature, 1},
		"consumed":        {order.ErrOrderNotActive, 1},
		"misrouted":       {ErrMisrouted, 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var tries int
			k := newTestKafka(order.Classify, func(context.Context, order.LedgerID, []byte) error {
				tries++
				if tries < 3 {
					return tc.fail
				}
				return nil
			})
			require.NoError(t, k.handle(ctx, kafkaRecord(t, "settle")))
			assert.Equal(t, tc.tries, tries)
		})
	}
}

func TestKafkaHandleUsesInjectedClassifier(t *testing.T) {
	errHookOutput := errors.New("hook output short")
	classify := func(err error) order.Class {
		if errors.Is(err, errHookOutput) {
			return order.ClassNeverValid
		}
		return order.Classify(err)
	}
	var tries int
	k := newTestKafka(classify, func(context.Context, order.LedgerID, []byte) error {
		tries++
		return errHookOutput
	})
	require.NoError(t, k.handle(context.Background(), kafkaRecord(t, "cancel")))
	assert.Equal(t, 1, tries)
}

func TestKafkaHandleStopsWithoutCommitOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	k := newTestKafka(order.Classify, func(context.Context, order.LedgerID, []byte) error {
		cancel()
		return errors.New("store closed")
	})
	assert.ErrorIs(t, k.handle(ctx, kafkaRecord(t, "settle")), context.Canceled)
}

func TestKafkaRoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list := strings.Split(brokers, ",")
	a, err := NewKafka(KafkaConfig{Self: 1, Brokers: list})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewKafka(KafkaConfig{Self: 2, Brokers: list})
	require.NoError(t, err)
	defer b.Close()

	got := make(chan string, 1)
	b.SetHandler(func(_ context.Context, sender order.LedgerID, payload []byte) error {
		select {
		case got <- string(payload):
		default:
		}
		return nil
	})
	go b.Run(ctx)

	_, err = a.Send(ctx, 2, []byte("hello"), DeliveryOptions{})
	require.NoError(t, err)
	select {
	case p := <-got:
		assert.Equal(t, "hello", p)
	case <-ctx.Done():
		t.Fatal("timed out waiting for kafka delivery")
	}
}
