package ipc

import (
	"sync"
	"sync/atomic"
	"time"
)

// retryAttempts and retrySleep bound how hard the publisher tries to push
// through backpressure or a momentarily missing subscriber before giving up
// on a single offer (spec §4.4, §6).
const (
	retryAttempts = 5
	retrySleep    = 2 * time.Millisecond
)

// Publisher wraps a Transport with the bounded-retry offer contract and the
// in-process recovery buffer of active orders.
type Publisher struct {
	transport Transport

	messagesSent   atomic.Uint64
	offerFailures  atomic.Uint64

	mu      sync.Mutex
	orders  map[string]OrderRecord
}

// NewPublisher wires a Publisher around transport. The transport is not
// connected until Connect is called.
func NewPublisher(transport Transport) *Publisher {
	return &Publisher{
		transport: transport,
		orders:    make(map[string]OrderRecord),
	}
}

// Connect establishes the underlying transport's publication.
func (p *Publisher) Connect() error {
	return p.transport.Connect()
}

// Close releases the underlying transport.
func (p *Publisher) Close() error {
	return p.transport.Close()
}

// Offer attempts to append payload, making up to retryAttempts attempts in
// total while the outcome is BackPressured or NotConnected. Any other outcome, or exhausting retries,
// increments offer_failures instead of messages_sent.
func (p *Publisher) Offer(payload []byte) Outcome {
	var last Outcome
	for attempt := 0; attempt < retryAttempts; attempt++ {
		last = p.transport.Offer(payload)
		switch last {
		case OutcomeSuccess:
			p.messagesSent.Add(1)
			return OutcomeSuccess
		case OutcomeBackPressured, OutcomeNotConnected:
			time.Sleep(retrySleep)
			continue
		default:
			p.offerFailures.Add(1)
			return last
		}
	}
	p.offerFailures.Add(1)
	return last
}

// PublishOrder offers payload (record's wire form, encoded by the caller),
// and unconditionally stores record into the recovery buffer regardless of
// the offer outcome: the two effects are independent (spec §6).
func (p *Publisher) PublishOrder(record OrderRecord, payload []byte) Outcome {
	outcome := p.Offer(payload)

	p.mu.Lock()
	p.orders[record.SymbolString()] = record
	p.mu.Unlock()

	return outcome
}

// HasOrder reports whether the recovery buffer holds any record for symbol,
// active or soft-deleted.
func (p *Publisher) HasOrder(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.orders[symbol]
	return ok
}

// GetOrder returns the record stored for symbol, if any.
func (p *Publisher) GetOrder(symbol string) (OrderRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.orders[symbol]
	return r, ok
}

// UpdateOrder overwrites the record stored for its own symbol.
func (p *Publisher) UpdateOrder(record OrderRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[record.SymbolString()] = record
}

// RemoveOrder soft-deletes the record for symbol: is_active is cleared but
// the entry is retained, matching the recovery buffer's contract.
func (p *Publisher) RemoveOrder(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.orders[symbol]
	if !ok {
		return
	}
	r.IsActive = false
	p.orders[symbol] = r
}

// AllOrders returns a snapshot copy of every record in the recovery buffer.
func (p *Publisher) AllOrders() []OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRecord, 0, len(p.orders))
	for _, r := range p.orders {
		out = append(out, r)
	}
	return out
}

// Service performs periodic transport housekeeping. It is intended to be
// called from a dedicated goroutine at approximately 20 Hz for the lifetime
// of the process (spec §6, §7).
func (p *Publisher) Service() {
	if !p.transport.Connected() {
		_ = p.transport.Connect()
	}
}

// Stats returns the running counters for status logging.
func (p *Publisher) Stats() (messagesSent, offerFailures uint64) {
	return p.messagesSent.Load(), p.offerFailures.Load()
}
