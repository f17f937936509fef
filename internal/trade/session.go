// Package trade implements the order-entry specialization of a wire
// session: HMAC-authenticated login, order create/cancel, and callback
// dispatch correlated by operation or execution topic.
package trade

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"martingale_chaser/internal/netutil"
	"martingale_chaser/internal/wire"
)

// Status is the vocabulary delivered to a trade session's callback.
type Status string

const (
	StatusNew       Status = "New"
	StatusFilled    Status = "Filled"
	StatusCancelled Status = "Cancelled"
	StatusRejected  Status = "Rejected"
)

// Callback receives order lifecycle notifications: client id, new status,
// and the symbol the order belongs to.
type Callback func(clientID string, status Status, symbol string)

const authWindow = 10 * time.Second

// orderArgs mirrors the venue's order.create / order.cancel args payload.
type orderArgs struct {
	Symbol      string `json:"symbol,omitempty"`
	Side        string `json:"side,omitempty"`
	OrderType   string `json:"orderType,omitempty"`
	Qty         string `json:"qty,omitempty"`
	Price       string `json:"price,omitempty"`
	Category    string `json:"category,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

type orderHeader struct {
	Timestamp  string `json:"X-BAPI-TIMESTAMP"`
	RecvWindow string `json:"X-BAPI-RECV-WINDOW"`
}

type orderRequest struct {
	ReqID  string      `json:"reqId"`
	Header orderHeader `json:"header"`
	Op     string      `json:"op"`
	Args   []orderArgs `json:"args"`
}

type authRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// linkedOrder is the shape shared by both the order.create ack's single
// "data" object and the execution stream's "data" array.
type linkedOrder struct {
	OrderLinkID string `json:"orderLinkId,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
}

// responseEnvelope captures every field the message handler needs to
// correlate a response by operation, without committing to one schema for
// every op. Data is left raw because order.create carries a single object
// there while the execution stream carries an array.
type responseEnvelope struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic"`
	RetCode *int            `json:"retCode,omitempty"`
	RetMsg  string          `json:"retMsg,omitempty"`
	ReqID   string          `json:"reqId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Session wires a wire.Session to HMAC authentication and order lifecycle
// callback dispatch. It implements wire.Handler.
type Session struct {
	url       string
	apiKey    string
	apiSecret string
	callback  Callback
	now       func() time.Time
	limiter   *netutil.RateLimiter

	underlying *wire.Session
}

// NewSession constructs a trade Session. apiKey/apiSecret may be empty, in
// which case OnOpen skips authentication and private operations will be
// rejected by the venue.
func NewSession(url, apiKey, apiSecret string, callback Callback) *Session {
	s := &Session{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		callback:  callback,
		now:       time.Now,
		limiter:   netutil.NewRateLimiter(5, 10),
	}
	s.underlying = wire.New(s)
	return s
}

// Underlying returns the wire session driving this trade session's
// connection lifecycle.
func (s *Session) Underlying() *wire.Session { return s.underlying }

func (s *Session) URL() string  { return s.url }
func (s *Session) Name() string { return "trade" }

// OnOpen authenticates immediately once the connection is established, if
// credentials are configured.
func (s *Session) OnOpen(*wire.Session) error {
	if s.apiKey == "" || s.apiSecret == "" {
		slog.Warn("trade session credentials unset; private operations disabled")
		return nil
	}
	return s.Authenticate()
}

// signAuth computes HMAC_SHA256(apiSecret, "GET/realtime" || expiresMs)
// rendered as lowercase hex.
func signAuth(apiSecret string, expiresMs int64) string {
	message := fmt.Sprintf("GET/realtime%d", expiresMs)
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate computes the login signature and sends the auth frame.
func (s *Session) Authenticate() error {
	expiresMs := s.now().Add(authWindow).UnixMilli()
	signature := signAuth(s.apiSecret, expiresMs)

	req := authRequest{Op: "auth", Args: []string{s.apiKey, strconv.FormatInt(expiresMs, 10), signature}}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("trade: marshal auth request: %w", err)
	}
	return s.underlying.Send(payload)
}

// PlaceOrder emits a create request. clientID is echoed as both reqId and
// orderLinkId so acks can be correlated even when venue-side ids are
// unknown. timeInForce is PostOnly when isMaker, else an IOC taker mode.
func (s *Session) PlaceOrder(symbol string, side string, qty, price float64, clientID string, isMaker bool) error {
	tif := "IOC"
	if isMaker {
		tif = "PostOnly"
	}
	req := orderRequest{
		ReqID: clientID,
		Header: orderHeader{
			Timestamp:  strconv.FormatInt(s.now().UnixMilli(), 10),
			RecvWindow: "5000",
		},
		Op: "order.create",
		Args: []orderArgs{{
			Symbol:      symbol,
			Side:        side,
			OrderType:   "Limit",
			Qty:         strconv.FormatFloat(qty, 'f', -1, 64),
			Price:       strconv.FormatFloat(price, 'f', -1, 64),
			Category:    "linear",
			TimeInForce: tif,
			OrderLinkID: clientID,
		}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("trade: marshal order.create: %w", err)
	}
	s.limiter.Wait()
	return s.underlying.Send(payload)
}

// CancelOrder emits a cancel request keyed by client id.
func (s *Session) CancelOrder(symbol, clientID string) error {
	req := orderRequest{
		ReqID: clientID,
		Header: orderHeader{
			Timestamp:  strconv.FormatInt(s.now().UnixMilli(), 10),
			RecvWindow: "5000",
		},
		Op: "order.cancel",
		Args: []orderArgs{{
			Symbol:      symbol,
			Category:    "linear",
			OrderLinkID: clientID,
		}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("trade: marshal order.cancel: %w", err)
	}
	s.limiter.Wait()
	return s.underlying.Send(payload)
}

// OnMessage implements wire.Handler's message dispatch, correlating
// responses by operation.
func (s *Session) OnMessage(_ *wire.Session, payload []byte) {
	var env responseEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	switch {
	case env.Op == "auth":
		success := env.RetCode == nil || *env.RetCode == 0
		slog.Info("trade auth response", "success", success, "ret_msg", env.RetMsg)

	case env.Op == "order.create":
		var data linkedOrder
		_ = json.Unmarshal(env.Data, &data) // symbol absent on some reject acks; invoke tolerates ""
		if env.RetCode != nil && *env.RetCode != 0 {
			s.invoke(env.ReqID, StatusRejected, data.Symbol)
			return
		}
		s.invoke(data.OrderLinkID, StatusNew, data.Symbol)

	case env.Op == "order.cancel":
		slog.Info("trade cancel response", "ret_msg", env.RetMsg)

	case env.Topic == "execution":
		var items []linkedOrder
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return
		}
		for _, item := range items {
			s.invoke(item.OrderLinkID, StatusFilled, item.Symbol)
		}
	}
}

func (s *Session) invoke(clientID string, status Status, symbol string) {
	if s.callback == nil || clientID == "" {
		return
	}
	s.callback(clientID, status, symbol)
}
