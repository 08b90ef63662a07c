// Package transport implements the session transport: a
// subscription-based JSON frame protocol over a websocket, with
// heartbeating in both directions.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
)

// Config controls heartbeat and framing limits.
type Config struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// DefaultConfig mirrors the relay's defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Handler receives the body of an inbound message frame.
type Handler func(body []byte)

// Conn is a live transport connection. Inbound message frames are
// dispatched to subscription handlers serially, in delivery order,
// from a single reader goroutine.
type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	send chan []byte

	mu        sync.Mutex
	subs      map[string]map[int]Handler
	nextSubID int
	closed    bool

	done    chan struct{}
	onClose func(error)
}

// Dial opens a websocket to rawURL, attaching token as a bearer
// credential on the handshake, and starts the read and write pumps.
// onClose is invoked exactly once when the connection dies for any
// reason; a nil error means a locally requested close.
func Dial(ctx context.Context, rawURL, token string, cfg Config, onClose func(error)) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &Conn{
		ws:      ws,
		cfg:     cfg,
		send:    make(chan []byte, 256),
		subs:    make(map[string]map[int]Handler),
		done:    make(chan struct{}),
		onClose: onClose,
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Subscribe registers a handler for inbound frames addressed to
// destination and returns its cancellation handle. The handle is
// idempotent: calling it more than once is a no-op.
func (c *Conn) Subscribe(destination string, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	if c.subs[destination] == nil {
		c.subs[destination] = make(map[int]Handler)
	}
	c.subs[destination][id] = h
	first := len(c.subs[destination]) == 1
	c.mu.Unlock()

	if first {
		c.writeFrame(&domain.Frame{Type: domain.FrameSubscribe, Destination: destination})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			handlers, ok := c.subs[destination]
			if ok {
				delete(handlers, id)
				if len(handlers) == 0 {
					delete(c.subs, destination)
				}
			}
			last := ok && len(handlers) == 0
			c.mu.Unlock()

			if last {
				c.writeFrame(&domain.Frame{Type: domain.FrameUnsubscribe, Destination: destination})
			}
		})
	}
}

// Publish serializes payload as JSON and sends it to destination. It
// reports false, without panicking, when the connection is not open or
// the payload cannot be serialized. Callers are expected to check
// connection state first; the return value covers the race where the
// connection died in between.
func (c *Conn) Publish(destination string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		l := logx.L()
		l.Error().Err(err).Str(logx.FieldDestination, destination).Msg("publish payload not serializable")
		return false
	}
	return c.writeFrame(&domain.Frame{
		Type:        domain.FrameSend,
		Destination: destination,
		Body:        body,
	})
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) writeFrame(f *domain.Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readPump() {
	defer c.shutdown(fmt.Errorf("connection closed"))

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := logx.L()
				l.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			l := logx.L()
			l.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}

		switch frame.Type {
		case domain.FrameMessage:
			c.dispatch(frame.Destination, frame.Body)
		case domain.FrameError:
			l := logx.L()
			l.Warn().Str("code", frame.Code).Str("detail", frame.Message).Msg("server error frame")
		}
	}
}

func (c *Conn) dispatch(destination string, body []byte) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[destination]))
	for _, h := range c.subs[destination] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(body)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(fmt.Errorf("websocket write failed: %w", err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("heartbeat write failed: %w", err))
				return
			}
		}
	}
}

// shutdown marks the connection closed and fires onClose once.
func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.ws.Close()

	if c.onClose != nil {
		c.onClose(err)
	}
}
