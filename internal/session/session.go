// Package session implements the client-side chat core: connection
// lifecycle, inbound normalization and filtering, conversation buffer
// maintenance, and the outbound send coordinator.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/conversation"
	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
	"github.com/hamzalamin/qatrat-chat-core/internal/transport"
)

// Transport is the slice of the session transport the core depends
// on. *transport.Conn satisfies it.
type Transport interface {
	Subscribe(destination string, h transport.Handler) func()
	Publish(destination string, payload any) bool
	Close() error
}

// Dialer opens a transport connection. Swappable in tests.
type Dialer func(ctx context.Context, rawURL, token string, cfg transport.Config, onClose func(error)) (Transport, error)

// HistoryFetcher supplies the stored conversation for a counterpart.
type HistoryFetcher interface {
	GetHistory(ctx context.Context, counterpartID string) ([]domain.ChatMessage, error)
}

// ProfileResolver fills in display profiles missing from wire
// payloads.
type ProfileResolver interface {
	Load(ctx context.Context) error
	Lookup(userID string) (domain.Profile, bool)
}

// Snapshot is what the render sink receives after every change: the
// current state, the selected counterpart, and the conversation
// buffer in display order.
type Snapshot struct {
	State         ConnectionState
	CounterpartID string
	Messages      []domain.ChatMessage
}

// Options configures a Session.
type Options struct {
	ViewerID  string
	ServerURL string
	Transport transport.Config

	History   HistoryFetcher
	Directory ProfileResolver

	// OnRender receives a snapshot after every buffer or state
	// change. Invoked without internal locks held.
	OnRender func(Snapshot)

	// OnStateChange reports lifecycle transitions; err is non-nil
	// for failures.
	OnStateChange func(ConnectionState, error)

	// Dial defaults to the websocket transport.
	Dial Dialer
}

// Session is the root of the chat core. One Session owns at most one
// live transport connection; Disconnect must be called on teardown or
// the subscription leaks into the next login.
type Session struct {
	viewerID  string
	serverURL string
	cfg       transport.Config
	dial      Dialer
	history   HistoryFetcher
	directory ProfileResolver
	onRender  func(Snapshot)
	onState   func(ConnectionState, error)

	mu            sync.Mutex
	state         ConnectionState
	conn          Transport
	unsubscribe   func()
	connGen       uint64
	lastClosedGen uint64

	// counterpartID is the live conversation selector; handlers
	// read it at delivery time, never a captured copy.
	counterpartID string
	fetchSeq      uint64
	buffer        conversation.Buffer

	pendingSend string
}

// New creates a Session for viewerID. The zero transport config is
// replaced with defaults.
func New(opts Options) *Session {
	cfg := opts.Transport
	if cfg.PingInterval <= 0 {
		cfg = transport.DefaultConfig()
	}
	dial := opts.Dial
	if dial == nil {
		dial = func(ctx context.Context, rawURL, token string, cfg transport.Config, onClose func(error)) (Transport, error) {
			return transport.Dial(ctx, rawURL, token, cfg, onClose)
		}
	}
	return &Session{
		viewerID:  opts.ViewerID,
		serverURL: opts.ServerURL,
		cfg:       cfg,
		dial:      dial,
		history:   opts.History,
		directory: opts.Directory,
		onRender:  opts.OnRender,
		onState:   opts.OnStateChange,
		state:     StateDisconnected,
	}
}

// Connect opens the transport, attaches token to the handshake and
// subscribes to the viewer's queue. Idempotent: a Connected or
// Connecting session returns immediately without opening a second
// connection. There is no automatic retry; reconnection policy
// belongs to the caller.
func (s *Session) Connect(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.connGen++
	gen := s.connGen
	s.mu.Unlock()

	s.reportState(StateConnecting, nil)

	conn, err := s.dial(ctx, s.serverURL, token, s.cfg, func(closeErr error) {
		s.handleClose(gen, closeErr)
	})
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateFailed
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if snap.State == StateFailed {
			s.reportState(StateFailed, err)
			s.notify(snap)
		}
		return fmt.Errorf("connect failed: %w", err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect ran while the dial was in flight; it wins.
		// The fresh connection is never installed.
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("connect aborted: session disconnected during dial")
	}
	if s.lastClosedGen >= gen {
		// The connection died before we even got here.
		s.state = StateFailed
		s.mu.Unlock()
		conn.Close()
		err := fmt.Errorf("connection closed during handshake")
		s.reportState(StateFailed, err)
		return err
	}
	s.conn = conn
	s.unsubscribe = conn.Subscribe(domain.UserQueue(s.viewerID), s.handleInbound)
	s.state = StateConnected
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.directory != nil {
		if err := s.directory.Load(ctx); err != nil {
			l := logx.L()
			l.Warn().Err(err).Msg("user directory load failed, display names unresolved")
		}
	}

	s.reportState(StateConnected, nil)
	s.notify(snap)
	return nil
}

// Disconnect tears the transport down unconditionally. Safe from any
// state; a no-op when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	unsub := s.unsubscribe
	s.conn = nil
	s.unsubscribe = nil
	wasDown := s.state == StateDisconnected
	s.state = StateDisconnected
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if conn != nil {
		conn.Close()
	}
	if !wasDown {
		s.reportState(StateDisconnected, nil)
		s.notify(snap)
	}
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CounterpartID returns the currently selected counterpart.
func (s *Session) CounterpartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpartID
}

// Messages returns a copy of the conversation buffer in display
// order.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// SelectCounterpart switches the active conversation. The previous
// conversation's live updates stop applying immediately; the buffer
// is replaced with counterpartID's fetched history. A fetch that
// resolves after another switch is discarded.
func (s *Session) SelectCounterpart(ctx context.Context, counterpartID string) error {
	s.mu.Lock()
	s.counterpartID = counterpartID
	s.fetchSeq++
	seq := s.fetchSeq
	s.buffer = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if counterpartID == "" || s.history == nil {
		return nil
	}

	messages, err := s.history.GetHistory(ctx, counterpartID)
	if err != nil {
		return fmt.Errorf("history fetch for %s: %w", counterpartID, err)
	}

	s.mu.Lock()
	if s.fetchSeq != seq || s.counterpartID != counterpartID {
		// Counterpart changed while the fetch was in flight.
		s.mu.Unlock()
		l := logx.L()
		l.Debug().Str(logx.FieldCounterpart, counterpartID).Msg("discarding stale history fetch")
		return nil
	}
	for i := range messages {
		s.resolveProfiles(&messages[i])
	}
	// Live messages merged during the fetch are kept; history is
	// folded in underneath them.
	s.buffer = conversation.MergeAll(s.buffer, messages)
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

// handleInbound is the normalizer entry point: every frame delivered
// to the viewer's queue lands here, in delivery order.
func (s *Session) handleInbound(body []byte) {
	msg, err := domain.Normalize(body, time.Now().UTC())
	if err != nil {
		l := logx.L()
		l.Warn().Err(err).Msg("dropping malformed inbound message")
		return
	}

	// Relevance: shared topics must not leak other users' traffic.
	if !msg.Involves(s.viewerID) {
		return
	}

	s.mu.Lock()
	// Conversation filter against the live counterpart, not a
	// snapshot captured at subscribe time.
	if msg.Counterpart(s.viewerID) != s.counterpartID || s.counterpartID == "" {
		s.mu.Unlock()
		return
	}
	s.resolveProfiles(&msg)
	s.buffer = conversation.Merge(s.buffer, msg)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen > s.lastClosedGen {
		s.lastClosedGen = gen
	}
	if gen != s.connGen || s.state == StateDisconnected {
		// A stale connection or a locally requested teardown.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.unsubscribe = nil
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateDisconnected
	}
	state := s.state
	snap := s.snapshotLocked()
	s.mu.Unlock()

	l := logx.L()
	l.Warn().Err(err).Str(logx.FieldState, state.String()).Msg("connection closed")
	s.reportState(state, err)
	s.notify(snap)
}

// resolveProfiles fills missing display snapshots from the directory
// cache. Caller holds s.mu.
func (s *Session) resolveProfiles(msg *domain.ChatMessage) {
	if s.directory == nil {
		return
	}
	if msg.Sender == nil {
		if p, ok := s.directory.Lookup(msg.SenderID); ok {
			msg.Sender = &p
		}
	}
	if msg.Receiver == nil {
		if p, ok := s.directory.Lookup(msg.ReceiverID); ok {
			msg.Receiver = &p
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]domain.ChatMessage, len(s.buffer))
	copy(msgs, s.buffer)
	return Snapshot{
		State:         s.state,
		CounterpartID: s.counterpartID,
		Messages:      msgs,
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onRender != nil {
		s.onRender(snap)
	}
}

func (s *Session) reportState(state ConnectionState, err error) {
	if s.onState != nil {
		s.onState(state, err)
	}
}
