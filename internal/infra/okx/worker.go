package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
)

const (
	maxRetries   = 10
	pingInterval = 25 * time.Second
	readTimeout  = 60 * time.Second
)

// tickerMessage is the OKX v5 public ticker push.
type tickerMessage struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// Worker maintains the OKX public websocket, subscribes to tickers for
// the given symbols and publishes observations into the hub channel.
// It reconnects with exponential backoff and never blocks on a full
// inbox; a dropped tick is superseded by the next one.
type Worker struct {
	wsURL   string
	symbols []string
	inbox   chan<- domain.PriceObservation

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a ticker worker publishing into inbox.
func NewWorker(wsURL string, symbols []string, inbox chan<- domain.PriceObservation) *Worker {
	return &Worker{
		wsURL:   wsURL,
		symbols: symbols,
		inbox:   inbox,
	}
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	if len(w.symbols) == 0 {
		return fmt.Errorf("okx worker: no symbols to subscribe")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Connected reports whether the websocket is currently up.
func (w *Worker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Subscribe adds a symbol on the live connection. New strategies
// started at runtime use this to begin receiving ticks.
func (w *Worker) Subscribe(symbol string) error {
	w.mu.Lock()
	for _, s := range w.symbols {
		if s == symbol {
			w.mu.Unlock()
			return nil
		}
	}
	w.symbols = append(w.symbols, symbol)
	w.mu.Unlock()

	if !w.Connected() {
		return nil // picked up by the next (re)subscribe
	}
	return w.sendSubscribe([]string{symbol})
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			infra.GlobalMetrics.RecordFeedError()
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			slog.Warn("okx connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		w.readLoop(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	symbols := append([]string(nil), w.symbols...)
	w.mu.Unlock()

	if err := w.sendSubscribe(symbols); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("okx connected", slog.Int("subs", len(symbols)))
	return nil
}

func (w *Worker) sendSubscribe(symbols []string) error {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{"channel": "tickers", "instId": s})
	}
	msg := map[string]interface{}{"op": "subscribe", "args": args}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pinger.C:
				// OKX expects a textual ping to keep the session alive.
				if err := w.threadSafeWrite(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("okx read failed, reconnecting", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	if string(msg) == "pong" {
		return
	}
	var resp tickerMessage
	if json.Unmarshal(msg, &resp) != nil || resp.Arg.Channel != "tickers" {
		return
	}

	for _, d := range resp.Data {
		price, err := decimal.NewFromString(d.Last)
		if err != nil || !price.IsPositive() {
			continue
		}
		ms, err := strconv.ParseInt(d.Ts, 10, 64)
		if err != nil {
			continue
		}
		obs := domain.PriceObservation{
			Time:   time.UnixMilli(ms).UTC(),
			Symbol: d.InstID,
			Price:  price,
		}
		select {
		case w.inbox <- obs:
		default: // DROP
		}
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect stops the worker and waits for its goroutines.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
