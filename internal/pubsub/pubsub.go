// Package pubsub tracks per-connection eth_subscribe sessions and fans
// committed-block, log and pending-transaction events out to them,
// with bounded per-connection delivery so one slow consumer can never
// stall another.
package pubsub

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	mapset "github.com/deckarep/golang-set"
)

// Kind discriminates a subscription's event stream.
type Kind string

const (
	KindNewHeads               Kind = "newHeads"
	KindLogs                   Kind = "logs"
	KindNewPendingTransactions Kind = "newPendingTransactions"
)

// Filter matches the logs kind: an OR-set of addresses and, per topic
// position, an OR-set of acceptable topics, within an optional block
// range.
type Filter struct {
	Addresses mapset.Set // common.Address
	Topics    []mapset.Set // one OR-set per position; nil position matches anything
	FromBlock *uint64
	ToBlock   *uint64
}

// LogEvent is one receipt log, ready to be matched against subscriber
// filters.
type LogEvent struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	Index       uint
}

// Matches reports whether ev satisfies f. A nil Filter matches
// everything.
func (f *Filter) Matches(ev LogEvent) bool {
	if f == nil {
		return true
	}
	if f.FromBlock != nil && ev.BlockNumber < *f.FromBlock {
		return false
	}
	if f.ToBlock != nil && ev.BlockNumber > *f.ToBlock {
		return false
	}
	if f.Addresses != nil && f.Addresses.Cardinality() > 0 && !f.Addresses.Contains(ev.Address) {
		return false
	}
	for i, set := range f.Topics {
		if set == nil || set.Cardinality() == 0 {
			continue
		}
		if i >= len(ev.Topics) {
			return false
		}
		if !set.Contains(ev.Topics[i]) {
			return false
		}
	}
	return true
}

const outboundQueueCap = 256

// Subscription is one eth_subscribe session.
type Subscription struct {
	ID     uuid.UUID
	Kind   Kind
	Filter *Filter
	conn   *Connection
}

// Connection is a transport's per-socket subscription set. send is
// supplied by the owning transport (HTTP connections never get one,
// since they reject eth_subscribe outright).
type Connection struct {
	ID uuid.UUID

	registry *Registry
	send     func(payload []byte) error
	outbound chan []byte
	stopCh   chan struct{}

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// Registry is the node-wide table of connections, keyed by connection
// id. Registration/unregistration share one lock; delivery goes through
// each connection's own lock-free (channel-based) queue.
type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]*Connection)}
}

// NewConnection registers a new connection whose notifications are
// delivered via send.
func (r *Registry) NewConnection(send func(payload []byte) error) *Connection {
	c := &Connection{
		ID:       uuid.New(),
		registry: r,
		send:     send,
		outbound: make(chan []byte, outboundQueueCap),
		stopCh:   make(chan struct{}),
		subs:     make(map[uuid.UUID]*Subscription),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	go c.drain()
	return c
}

func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.outbound:
			if err := c.send(msg); err != nil {
				log.Debug("pubsub: delivery failed", "conn", c.ID, "error", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Subscribe creates a new subscription on this connection.
func (c *Connection) Subscribe(kind Kind, filter *Filter) *Subscription {
	s := &Subscription{ID: uuid.New(), Kind: kind, Filter: filter, conn: c}
	c.mu.Lock()
	c.subs[s.ID] = s
	c.mu.Unlock()
	return s
}

// Unsubscribe removes a subscription by id, as eth_unsubscribe does.
func (c *Connection) Unsubscribe(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// Close tears the connection down: every subscription is dropped and
// the outbound queue drained goroutine stopped. Dropping a connection
// task is expected to cancel all of its subscriptions (spec §5).
func (c *Connection) Close() {
	close(c.stopCh)
	c.mu.Lock()
	c.subs = map[uuid.UUID]*Subscription{}
	c.mu.Unlock()
	c.registry.mu.Lock()
	delete(c.registry.conns, c.ID)
	c.registry.mu.Unlock()
}

func (c *Connection) snapshotSubs() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

// push attempts a non-blocking delivery. On overflow, the subscription
// that would have been delivered is dropped (its consumer is, by
// definition, the one the queue couldn't keep up with) and a
// best-effort "slow consumer" notice is queued in its place. The
// publisher is never blocked.
func (c *Connection) push(sub *Subscription, payload []byte) {
	select {
	case c.outbound <- payload:
		return
	default:
	}

	c.mu.Lock()
	delete(c.subs, sub.ID)
	c.mu.Unlock()

	notice, _ := json.Marshal(subscriptionNotice{
		JSONRPC: "2.0",
		Method:  "eth_subscription",
		Params: subscriptionParams{
			Subscription: sub.ID.String(),
			Result:       json.RawMessage(`"unsubscribed: slow consumer"`),
		},
	})
	select {
	case c.outbound <- notice:
	default:
	}
	log.Warn("pubsub: dropped slow subscription", "conn", c.ID, "sub", sub.ID)
}

type subscriptionNotice struct {
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method"`
	Params  subscriptionParams  `json:"params"`
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func encodeNotice(subID uuid.UUID, result interface{}) []byte {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte("null")
	}
	out, _ := json.Marshal(subscriptionNotice{
		JSONRPC: "2.0",
		Method:  "eth_subscription",
		Params: subscriptionParams{
			Subscription: subID.String(),
			Result:       resultJSON,
		},
	})
	return out
}

func (r *Registry) connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// PublishHead notifies every newHeads subscriber with head.
func (r *Registry) PublishHead(head interface{}) {
	for _, c := range r.connections() {
		for _, s := range c.snapshotSubs() {
			if s.Kind != KindNewHeads {
				continue
			}
			c.push(s, encodeNotice(s.ID, head))
		}
	}
}

// PublishPendingTx notifies every newPendingTransactions subscriber.
func (r *Registry) PublishPendingTx(hash common.Hash) {
	for _, c := range r.connections() {
		for _, s := range c.snapshotSubs() {
			if s.Kind != KindNewPendingTransactions {
				continue
			}
			c.push(s, encodeNotice(s.ID, hash.Hex()))
		}
	}
}

// PublishLogs notifies every logs subscriber whose filter matches at
// least one of the given events, once per matching event.
func (r *Registry) PublishLogs(events []LogEvent) {
	for _, c := range r.connections() {
		for _, s := range c.snapshotSubs() {
			if s.Kind != KindLogs {
				continue
			}
			for _, ev := range events {
				if s.Filter.Matches(ev) {
					c.push(s, encodeNotice(s.ID, ev))
				}
			}
		}
	}
}
