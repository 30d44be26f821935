package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"tpguard/internal/domain"
)

const (
	wsAuthWindow   = 10 * time.Second
	wsPingInterval = 20 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsMaxBackoff   = 30 * time.Second
)

// ExecutionHandler receives the symbol of every private fill as it happens.
type ExecutionHandler func(symbol string)

// Stream consumes the private websocket and surfaces execution events so the
// reconciliation loop can react to fills ahead of its next poll. The stream
// is an accelerator only: polling remains the source of truth and a dead
// stream degrades latency, never correctness.
type Stream struct {
	wsURL     string
	apiKey    string
	apiSecret string
	handler   ExecutionHandler
	logger    *slog.Logger
}

// NewStream creates the private stream client for one account.
func NewStream(wsURL, apiKey, apiSecret string, handler ExecutionHandler, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:     wsURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		handler:   handler,
		logger:    logger.With(slog.String("component", "bybit_stream")),
	}
}

// Run maintains the connection until the context is cancelled, reconnecting
// with capped exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

func (s *Stream) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": []string{"execution"},
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("execution stream connected")

	// Closing the connection on context cancel unblocks the read loop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go s.pingLoop(ctx, conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		s.handleMessage(raw)
	}
}

// authenticate performs the private stream handshake: the signature covers
// "GET/realtime" plus an expiry timestamp.
func (s *Stream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(wsAuthWindow).UnixMilli()

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)
	signature := hex.EncodeToString(mac.Sum(nil))

	return conn.WriteJSON(map[string]any{
		"op":   "auth",
		"args": []any{s.apiKey, expires, signature},
	})
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]any{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

type streamMessage struct {
	Op      string `json:"op"`
	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Data    []struct {
		Symbol string `json:"symbol"`
	} `json:"data,omitempty"`
}

func (s *Stream) handleMessage(raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug("unparseable stream message", slog.String("error", err.Error()))
		return
	}

	if msg.Success != nil && !*msg.Success {
		s.logger.Warn("stream operation failed",
			slog.String("op", msg.Op),
			slog.String("ret_msg", msg.RetMsg),
		)
		return
	}
	if msg.Topic != "execution" {
		return
	}

	seen := make(map[string]bool, len(msg.Data))
	for _, fill := range msg.Data {
		if fill.Symbol == "" || seen[fill.Symbol] {
			continue
		}
		seen[fill.Symbol] = true
		s.logger.Debug("execution event", slog.String("symbol", fill.Symbol))
		if s.handler != nil {
			s.handler(fill.Symbol)
		}
	}
}
