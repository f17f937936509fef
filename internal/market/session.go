// Package market implements the depth-feed specialization of a wire
// session: subscribe, parse depth diffs, apply to the book store, and
// publish snapshots onto the IPC publisher.
package market

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"martingale_chaser/internal/book"
	"martingale_chaser/internal/codec"
	"martingale_chaser/internal/ipc"
	"martingale_chaser/internal/subscription"
	"martingale_chaser/internal/wire"
)

const depthTopicPrefix = "orderbook.50."

// subscribeRequest mirrors the venue's generic {op, args} subscribe frame.
type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// ackEnvelope is only used to detect a subscription acknowledgement frame,
// which carries a top-level "success" field and nothing else we care about.
type ackEnvelope struct {
	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
}

// deltaEnvelope mirrors the depth-diff frame: a topic string ending in the
// symbol, and a data object carrying string-pair bid/ask levels.
type deltaEnvelope struct {
	Topic string `json:"topic"`
	Data  struct {
		Bids [][2]string `json:"b"`
		Asks [][2]string `json:"a"`
	} `json:"data"`
}

// Session wires a wire.Session to the depth book registry and IPC
// publisher. It implements wire.Handler.
type Session struct {
	url         string
	books       *book.Registry
	subs        *subscription.Set
	publisher   *ipc.Publisher
	encoder     *codec.Encoder
	now         func() time.Time
	publishedOK atomic.Uint64

	underlying *wire.Session
}

// NewSession constructs a market Session bound to a venue endpoint, the
// shared depth registry, subscription set, and IPC publisher.
func NewSession(url string, books *book.Registry, subs *subscription.Set, publisher *ipc.Publisher) *Session {
	s := &Session{
		url:       url,
		books:     books,
		subs:      subs,
		publisher: publisher,
		encoder:   codec.NewEncoder(),
		now:       time.Now,
	}
	s.underlying = wire.New(s)
	return s
}

// Underlying returns the wire session driving this market session's
// connection lifecycle, so callers can invoke Run/Stop/Send on it.
func (s *Session) Underlying() *wire.Session { return s.underlying }

func (s *Session) URL() string  { return s.url }
func (s *Session) Name() string { return "market" }

// OnOpen performs no authentication for market data. It issues a depth
// subscription for every symbol already in the subscription set, so a
// Subscribe made before the connection was up, or before a reconnect, takes
// effect on the venue once the session connects.
func (s *Session) OnOpen(ws *wire.Session) error {
	for _, symbol := range s.subs.Symbols() {
		payload, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: []string{depthTopicPrefix + symbol}})
		if err != nil {
			return fmt.Errorf("market: marshal subscribe request: %w", err)
		}
		if err := ws.Send(payload); err != nil {
			return fmt.Errorf("market: subscribe %s on open: %w", symbol, err)
		}
	}
	return nil
}

// Subscribe emits a subscribe request for the depth topic at depth 50,
// marks the symbol in the subscription set, and ensures its Depth Book
// exists.
func (s *Session) Subscribe(symbol string) error {
	s.books.GetOrCreate(symbol)
	s.subs.Add(symbol)

	req := subscribeRequest{Op: "subscribe", Args: []string{depthTopicPrefix + symbol}}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("market: marshal subscribe request: %w", err)
	}
	return s.underlying.Send(payload)
}

// OnMessage implements wire.Handler's message dispatch.
func (s *Session) OnMessage(_ *wire.Session, payload []byte) {
	var ack ackEnvelope
	if err := json.Unmarshal(payload, &ack); err == nil && ack.Success != nil {
		slog.Info("market subscribe ack", "success", *ack.Success, "ret_msg", ack.RetMsg)
		return
	}

	var env deltaEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if !strings.HasPrefix(env.Topic, depthTopicPrefix) {
		return
	}
	symbol := strings.TrimPrefix(env.Topic, depthTopicPrefix)
	if symbol == "" {
		return
	}

	bids := parseLevels(env.Data.Bids)
	asks := parseLevels(env.Data.Asks)
	if len(bids) == 0 && len(asks) == 0 {
		return
	}

	b := s.books.GetOrCreate(symbol)
	if len(bids) > 0 {
		b.UpdateBids(bids)
	}
	if len(asks) > 0 {
		b.UpdateAsks(asks)
	}
	b.BumpUpdate()

	s.publishSnapshot(symbol, b)
}

func (s *Session) publishSnapshot(symbol string, b *book.Book) {
	bidLevels := toCodecLevels(b.SnapshotBids(book.MaxLevels))
	askLevels := toCodecLevels(b.SnapshotAsks(book.MaxLevels))

	s.encoder.EncodeOrderBookSnapshot(uint64(s.now().UnixNano()), bidLevels, askLevels, symbol)
	if outcome := s.publisher.Offer(s.encoder.Data()); outcome == ipc.OutcomeSuccess {
		s.publishedOK.Add(1)
	}
}

// PublishedCount reports how many snapshots have been successfully offered,
// used for status logging.
func (s *Session) PublishedCount() uint64 { return s.publishedOK.Load() }

func toCodecLevels(levels []book.Level) []codec.Level {
	out := make([]codec.Level, len(levels))
	for i, lvl := range levels {
		out[i] = codec.Level{Price: lvl.Price, Qty: lvl.Qty}
	}
	return out
}

// parseLevels converts string-pair levels into numeric book levels,
// skipping any entry that fails to parse rather than aborting the whole
// update.
func parseLevels(pairs [][2]string) []book.Level {
	out := make([]book.Level, 0, len(pairs))
	for _, pair := range pairs {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		out = append(out, book.Level{Price: price, Qty: qty})
	}
	return out
}
