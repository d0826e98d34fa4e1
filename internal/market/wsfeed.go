package market

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// WSFeed maintains a websocket connection to an exchange tick stream and
// keeps the last traded price per subscribed symbol, plus a bounded rolling
// buffer for intra-day movement checks. Reconnects with backoff until
// stopped.
type WSFeed struct {
	url     string
	symbols []string

	mu     sync.RWMutex
	last   map[string]decimal.Decimal
	buffer map[string][]TickPoint

	running bool
	stopCh  chan struct{}
	conn    *websocket.Conn
}

// TickPoint is one live tick retained in the rolling buffer.
type TickPoint struct {
	Price decimal.Decimal
	At    time.Time
}

const tickBufferCap = 2000

type tickMessage struct {
	Symbol string `json:"symbol"`
	LTP    string `json:"ltp"`
}

// NewWSFeed creates a feed for the given stream URL and symbols.
func NewWSFeed(url string, symbols ...string) *WSFeed {
	return &WSFeed{
		url:     url,
		symbols: symbols,
		last:    make(map[string]decimal.Decimal),
		buffer:  make(map[string][]TickPoint),
		stopCh:  make(chan struct{}),
	}
}

// Start connects and begins streaming ticks.
func (f *WSFeed) Start() {
	f.running = true
	go f.run()
	log.Info().Str("url", f.url).Strs("symbols", f.symbols).Msg("📈 Tick feed started")
}

// Stop closes the connection and halts reconnects.
func (f *WSFeed) Stop() {
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *WSFeed) run() {
	backoff := time.Second
	for f.running {
		if err := f.connect(); err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Tick feed connection failed")
			select {
			case <-time.After(backoff):
			case <-f.stopCh:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		f.readLoop()
	}
}

func (f *WSFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn

	sub := map[string]any{"action": "subscribe", "symbols": f.symbols}
	return conn.WriteJSON(sub)
}

func (f *WSFeed) readLoop() {
	for f.running {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			if f.running {
				log.Warn().Err(err).Msg("Tick feed read error, reconnecting")
			}
			f.conn.Close()
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
			continue
		}
		price, err := decimal.NewFromString(msg.LTP)
		if err != nil {
			continue
		}
		f.record(msg.Symbol, price)
	}
}

func (f *WSFeed) record(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[symbol] = price
	buf := append(f.buffer[symbol], TickPoint{Price: price, At: time.Now()})
	if len(buf) > tickBufferCap {
		buf = buf[len(buf)-tickBufferCap:]
	}
	f.buffer[symbol] = buf
}

// LastPrice returns the most recent tick for symbol, or ErrUnavailable when
// no tick has arrived yet.
func (f *WSFeed) LastPrice(symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.last[symbol]
	if !ok {
		return decimal.Zero, ErrUnavailable
	}
	return p, nil
}

// PriceAt returns the tick closest to t from the rolling buffer.
func (f *WSFeed) PriceAt(symbol string, t time.Time) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	buf := f.buffer[symbol]
	if len(buf) == 0 {
		return decimal.Zero, ErrUnavailable
	}
	best := buf[0]
	bestDiff := absDuration(buf[0].At.Sub(t))
	for _, tp := range buf[1:] {
		if d := absDuration(tp.At.Sub(t)); d < bestDiff {
			best, bestDiff = tp, d
		}
	}
	return best.Price, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
