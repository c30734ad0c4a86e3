package bus

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// ledgerTopic is the gossip topic a ledger listens on.
func ledgerTopic(id order.LedgerID) string {
	return fmt.Sprintf("crossledger/ledger/%d", id)
}

// Libp2p is a gossipsub transport: every ledger subscribes to its own topic
// and publishes to the topic of the destination. Gossip topics accept any
// publisher, so envelopes should be attested and verified.
//
// It is a devnet transport. Messages are neither acknowledged nor resent, so
// a destination that is offline or rejects a message for a transient reason
// loses it, and Libp2p does not meet the at-least-once delivery the ledgers
// rely on for settlements and cancellations. Use Kafka where that matters.
type Libp2p struct {
	endpoint

	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	sub *pubsub.Subscription

	muT    sync.Mutex
	topics map[order.LedgerID]*pubsub.Topic
}

var _ Bus = (*Libp2p)(nil)

type Libp2pConfig struct {
	Self       order.LedgerID
	ListenAddr string
	Bootstrap  []string
	Fees       FeeSchedule
	Attester   Attester
	Verifier   Verifier
	Logger     *zap.SugaredLogger
}

func NewLibp2p(ctx context.Context, cfg Libp2pConfig) (*Libp2p, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	n := &Libp2p{h: h, ps: ps, log: log, topics: make(map[order.LedgerID]*pubsub.Topic)}
	n.init(cfg.Self, cfg.Fees, cfg.Attester, cfg.Verifier)

	for _, bs := range cfg.Bootstrap {
		if err := n.Connect(ctx, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	own, err := n.topic(cfg.Self)
	if err != nil {
		h.Close()
		return nil, err
	}
	if n.sub, err = own.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}
	go n.readLoop(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "ledger", cfg.Self)
	return n, nil
}

// Connect dials a peer given as a full /p2p/ multiaddr.
func (n *Libp2p) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return n.h.Connect(ctx, *info)
}

func (n *Libp2p) Host() host.Host { return n.h }

// Addrs returns dialable /p2p/ multiaddrs of this host.
func (n *Libp2p) Addrs() []string {
	var out []string
	for _, a := range n.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.h.ID()))
	}
	return out
}

func (n *Libp2p) topic(id order.LedgerID) (*pubsub.Topic, error) {
	n.muT.Lock()
	defer n.muT.Unlock()
	if t, ok := n.topics[id]; ok {
		return t, nil
	}
	t, err := n.ps.Join(ledgerTopic(id))
	if err != nil {
		return nil, err
	}
	n.topics[id] = t
	return t, nil
}

func (n *Libp2p) Send(ctx context.Context, dest order.LedgerID, payload []byte, opts DeliveryOptions) (Receipt, error) {
	env, rcpt, err := n.seal(dest, payload, opts)
	if err != nil {
		return Receipt{}, err
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return Receipt{}, err
	}
	t, err := n.topic(dest)
	if err != nil {
		return Receipt{}, err
	}
	if err := t.Publish(ctx, data); err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

func (n *Libp2p) readLoop(ctx context.Context) {
	for {
		msg, err := n.sub.Next(ctx)
		if err != nil {
			return
		}
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			n.log.Debugw("envelope_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		// gossip offers no redelivery; a rejected message is only logged
		if err := n.accept(ctx, env); err != nil {
			n.log.Warnw("message_rejected", "sender", env.Sender, "seq", env.Seq, "err", err)
		}
	}
}

func (n *Libp2p) Close() error {
	n.sub.Cancel()
	n.muT.Lock()
	for _, t := range n.topics {
		_ = t.Close()
	}
	n.muT.Unlock()
	return n.h.Close()
}
