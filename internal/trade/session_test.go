package trade

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	return server
}

func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func TestSignAuthIsLowercaseHexAndDeterministic(t *testing.T) {
	sig := signAuth("secret456", 1_700_000_000_123)

	if _, err := hex.DecodeString(sig); err != nil {
		t.Fatalf("expected valid lowercase hex, got %q: %v", sig, err)
	}
	for _, r := range sig {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("expected lowercase hex, got %q", sig)
		}
	}
	if sig != signAuth("secret456", 1_700_000_000_123) {
		t.Fatal("expected signature to be deterministic for identical inputs")
	}
	if sig == signAuth("secret456", 1_700_000_000_124) {
		t.Fatal("expected signature to change with expires_ms")
	}
}

func TestPlaceOrderUsesPostOnlyForMaker(t *testing.T) {
	req := capturePlaceOrder(t, "BTCUSDT", "Buy", 0.01, 60000, "BOT_1", true)
	if req.Args[0].TimeInForce != "PostOnly" {
		t.Fatalf("expected PostOnly for maker order, got %s", req.Args[0].TimeInForce)
	}
	if req.Args[0].OrderLinkID != "BOT_1" || req.ReqID != "BOT_1" {
		t.Fatalf("expected client id echoed as both reqId and orderLinkId, got %+v", req)
	}
}

func TestPlaceOrderUsesIOCForTaker(t *testing.T) {
	req := capturePlaceOrder(t, "BTCUSDT", "Sell", 0.01, 60000, "BOT_2", false)
	if req.Args[0].TimeInForce != "IOC" {
		t.Fatalf("expected IOC for taker order, got %s", req.Args[0].TimeInForce)
	}
}

func TestCancelOrderKeyedByClientID(t *testing.T) {
	received := make(chan []byte, 1)
	server := newTestServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		time.Sleep(150 * time.Millisecond)
	})
	defer server.Close()

	s := NewSession(httpToWS(server.URL), "", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go s.Underlying().Run(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := s.CancelOrder("ETHUSDT", "BOT_9"); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	select {
	case raw := <-received:
		var req orderRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("unmarshal cancel request: %v", err)
		}
		if req.Op != "order.cancel" || req.Args[0].OrderLinkID != "BOT_9" {
			t.Fatalf("unexpected cancel request: %+v", req)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("server did not receive cancel request")
	}
	s.Underlying().Stop()
}

// capturePlaceOrder runs a real trade Session against a test server and
// returns the order.create request it sent.
func capturePlaceOrder(t *testing.T, symbol, side string, qty, price float64, clientID string, isMaker bool) orderRequest {
	t.Helper()
	received := make(chan []byte, 1)
	server := newTestServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		time.Sleep(150 * time.Millisecond)
	})
	defer server.Close()

	s := NewSession(httpToWS(server.URL), "", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go s.Underlying().Run(ctx)
	time.Sleep(100 * time.Millisecond)
	defer s.Underlying().Stop()

	if err := s.PlaceOrder(symbol, side, qty, price, clientID, isMaker); err != nil {
		t.Fatalf("place order: %v", err)
	}

	select {
	case raw := <-received:
		var req orderRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("unmarshal place order request: %v", err)
		}
		return req
	case <-time.After(1 * time.Second):
		t.Fatal("server did not receive place order request")
		return orderRequest{}
	}
}

func TestOnMessageOrderCreateSuccessInvokesNew(t *testing.T) {
	var gotID string
	var gotStatus Status
	var gotSymbol string
	s := NewSession("wss://example.invalid/trade", "", "", func(clientID string, status Status, symbol string) {
		gotID, gotStatus, gotSymbol = clientID, status, symbol
	})

	payload := []byte(`{"op":"order.create","retCode":0,"reqId":"BOT_1","data":{"orderLinkId":"BOT_1","symbol":"BTCUSDT"}}`)
	s.OnMessage(nil, payload)

	if gotID != "BOT_1" || gotStatus != StatusNew || gotSymbol != "BTCUSDT" {
		t.Fatalf("expected New for BOT_1/BTCUSDT, got id=%s status=%s symbol=%s", gotID, gotStatus, gotSymbol)
	}
}

func TestOnMessageOrderCreateFailureInvokesRejected(t *testing.T) {
	var gotStatus Status
	s := NewSession("wss://example.invalid/trade", "", "", func(clientID string, status Status, symbol string) {
		gotStatus = status
	})

	payload := []byte(`{"op":"order.create","retCode":10001,"retMsg":"bad request","reqId":"BOT_2"}`)
	s.OnMessage(nil, payload)

	if gotStatus != StatusRejected {
		t.Fatalf("expected Rejected, got %s", gotStatus)
	}
}

func TestOnMessageExecutionInvokesFilled(t *testing.T) {
	var ids []string
	var symbols []string
	s := NewSession("wss://example.invalid/trade", "", "", func(clientID string, status Status, symbol string) {
		if status == StatusFilled {
			ids = append(ids, clientID)
			symbols = append(symbols, symbol)
		}
	})

	payload := []byte(`{"topic":"execution","data":[{"orderLinkId":"BOT_3","symbol":"BTCUSDT"},{"orderLinkId":"BOT_4","symbol":"ETHUSDT"}]}`)
	s.OnMessage(nil, payload)

	if len(ids) != 2 || ids[0] != "BOT_3" || ids[1] != "BOT_4" {
		t.Fatalf("unexpected fills: %v", ids)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
}

func TestOnMessageAuthDoesNotInvokeCallback(t *testing.T) {
	invoked := false
	s := NewSession("wss://example.invalid/trade", "", "", func(clientID string, status Status, symbol string) {
		invoked = true
	})

	payload := []byte(`{"op":"auth","retCode":0}`)
	s.OnMessage(nil, payload)

	if invoked {
		t.Fatal("auth response must not invoke the order callback")
	}
}

func TestOnOpenSkipsAuthWithoutCredentials(t *testing.T) {
	s := NewSession("wss://example.invalid/trade", "", "", nil)
	if err := s.OnOpen(nil); err != nil {
		t.Fatalf("expected no error skipping auth without credentials: %v", err)
	}
}
