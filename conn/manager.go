// Package conn owns the terminal's single authenticated push channel to the
// station server: connect, authenticate, subscribe, heartbeat, reconnect.
package conn

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"stationedge/clock"
	"stationedge/protocol"
)

const dialTimeout = 10 * time.Second

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	StationID  string
	ClientType string

	// Topics are subscribed automatically after every authentication, in
	// addition to topics requested through Subscribe.
	Topics []string

	HeartbeatInterval time.Duration

	// MaxMissedAcks drops the connection when this many heartbeats are
	// outstanding at the next tick. Zero disables the check.
	MaxMissedAcks int

	Backoff Backoff
	Clock   clock.Clock
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ClientType:        protocol.ClientDesktop,
		Topics:            protocol.DefaultTopics,
		HeartbeatInterval: 30 * time.Second,
		MaxMissedAcks:     3,
		Backoff:           DefaultBackoff(),
	}
}

// Manager keeps at most one open channel to the server. All state lives
// behind mu; emitter callbacks and channel I/O happen outside it.
type Manager struct {
	dialer  Dialer
	creds   CredentialSource
	emitter EventEmitter
	ingest  *protocol.Ingestor
	clock   clock.Clock
	opts    Options

	mu        sync.Mutex
	state     State
	ch        Channel
	gen       uint64
	manual    bool
	attempt   int
	missed    int
	authedAt  time.Time
	reconnect *clock.Timer
	heartbeat *clock.Timer
	topics    map[string]bool
	pending   map[string]chan *protocol.Envelope
}

// NewManager creates a disconnected manager. handler receives decoded
// inbound messages; emitter receives connection events. Both may be nil.
func NewManager(dialer Dialer, creds CredentialSource, handler protocol.MessageHandler, emitter EventEmitter, opts Options) *Manager {
	if handler == nil {
		handler = protocol.NoOpHandler{}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ClientType == "" {
		opts.ClientType = protocol.ClientDesktop
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Manager{
		dialer:  dialer,
		creds:   creds,
		emitter: emitter,
		ingest:  protocol.NewIngestor(handler),
		clock:   opts.Clock,
		opts:    opts,
		state:   StateDisconnected,
		topics:  make(map[string]bool),
		pending: make(map[string]chan *protocol.Envelope),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether the channel is open and authenticated.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// Attempt returns the number of reconnect attempts since the last
// successful authentication.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Topics returns every topic in the subscription set, sorted.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.topics))
	for t := range m.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Connect opens the channel and starts authentication. It is a no-op when a
// connection is already open or being opened. A dial failure moves the
// manager to Failed and schedules a reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state.IsActive() {
		m.mu.Unlock()
		return nil
	}
	m.manual = false
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	old := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.emitState(old, StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	ch, err := m.dialer.Dial(dctx)
	cancel()

	m.mu.Lock()
	if m.manual || m.state != StateConnecting {
		m.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		old = m.setStateLocked(StateFailed)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		log.Printf("conn: connect failed: %v", err)
		m.emitState(old, StateFailed)
		return &TransportError{Op: "dial", Err: err}
	}
	m.gen++
	gen := m.gen
	m.ch = ch
	old = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	log.Printf("conn: connected")
	m.emitState(old, StateConnected)

	go m.readLoop(ch, gen)

	if err := m.Authenticate(); err != nil {
		log.Printf("conn: authenticate: %v", err)
	}
	return nil
}

// Authenticate sends the stored credentials. Missing or expired credentials
// are reported as an *AuthError through the emitter without touching the
// channel.
func (m *Manager) Authenticate() error {
	if m.creds == nil {
		ae := &AuthError{Code: "no_credentials", Message: "no credential source configured"}
		m.emitter.EmitAuthError(ae)
		return ae
	}
	creds, err := m.creds.Credentials()
	if err != nil {
		ae := &AuthError{Code: "no_credentials", Message: err.Error(), Err: err}
		m.emitter.EmitAuthError(ae)
		return ae
	}
	if creds.Token == "" {
		ae := &AuthError{Code: "no_credentials", Message: "no stored token"}
		m.emitter.EmitAuthError(ae)
		return ae
	}
	if !creds.ExpiresAt.IsZero() && !m.clock.Now().Before(creds.ExpiresAt) {
		ae := &AuthError{Code: "token_expired", Message: "stored token expired at " + creds.ExpiresAt.Format(time.RFC3339)}
		m.emitter.EmitAuthError(ae)
		return ae
	}
	return m.Send(protocol.TypeAuthenticate, &protocol.Authenticate{
		Token:      creds.Token,
		StaffID:    creds.StaffID,
		StaffName:  creds.StaffName,
		StationID:  m.opts.StationID,
		ClientType: m.opts.ClientType,
	})
}

// Subscribe adds topics to the subscription set. While authenticated one
// subscribe message is sent per call; otherwise the topics are sent after
// the next authentication.
func (m *Manager) Subscribe(topics ...string) error {
	var req []string
	m.mu.Lock()
	seen := make(map[string]bool, len(topics))
	for _, t := range topics {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		m.topics[t] = true
		req = append(req, t)
	}
	authed := m.state == StateAuthenticated
	m.mu.Unlock()

	if !authed || len(req) == 0 {
		return nil
	}
	return m.Send(protocol.TypeSubscribe, &protocol.Subscribe{Topics: req})
}

// Send builds an envelope and writes it. It returns ErrNotConnected unless
// the channel is open.
func (m *Manager) Send(msgType string, payload any) error {
	env, err := m.envelope(msgType, payload)
	if err != nil {
		return err
	}
	return m.SendMessage(env)
}

// envelope builds an outbound message stamped with the manager's clock.
func (m *Manager) envelope(msgType string, payload any) (*protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", msgType, err)
	}
	env.Timestamp = m.clock.Now().UTC().Format(time.RFC3339Nano)
	return env, nil
}

// SendMessage writes a prepared envelope, stamping it if it has no
// timestamp.
func (m *Manager) SendMessage(env *protocol.Envelope) error {
	if env.Timestamp == "" {
		env.Timestamp = m.clock.Now().UTC().Format(time.RFC3339Nano)
	}
	m.mu.Lock()
	ch := m.ch
	open := m.state.IsOpen() && ch != nil
	m.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := ch.Send(data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Request sends a message and waits for the reply carrying its ID as
// correlationId. The reply goes to the caller only; it is not dispatched to
// the handler.
func (m *Manager) Request(ctx context.Context, msgType string, payload any) (*protocol.Envelope, error) {
	env, err := m.envelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	reply := make(chan *protocol.Envelope, 1)
	m.mu.Lock()
	m.pending[env.ID] = reply
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, env.ID)
		m.mu.Unlock()
	}()

	if err := m.SendMessage(env); err != nil {
		return nil, err
	}
	select {
	case r, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestDashboard asks the server for the full dashboard and waits for the
// correlated reply.
func (m *Manager) RequestDashboard(ctx context.Context) (*protocol.DashboardData, error) {
	reply, err := m.Request(ctx, protocol.TypeDashboardDataRequest, &protocol.DashboardDataRequest{StationID: m.opts.StationID})
	if err != nil {
		return nil, err
	}
	switch reply.Type {
	case protocol.TypeDashboardData, protocol.TypeInitialData:
	case protocol.TypeError:
		var p protocol.ServerError
		if err := reply.DecodePayload(&p); err != nil {
			return nil, &protocol.MalformedMessageError{Reason: "error reply", Err: err}
		}
		return nil, fmt.Errorf("dashboard request: %s: %s", p.Code, p.Message)
	default:
		return nil, &protocol.MalformedMessageError{Reason: "unexpected reply " + reply.Type}
	}
	var data protocol.DashboardData
	if err := reply.DecodePayload(&data); err != nil {
		return nil, &protocol.MalformedMessageError{Reason: "dashboard reply", Err: err}
	}
	return &data, nil
}

// Disconnect closes the channel and cancels all timers. No reconnect
// follows. A disconnected event is emitted unless already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopTimersLocked()
	ch := m.ch
	m.ch = nil
	m.gen++
	old := m.setStateLocked(StateDisconnected)
	m.failPendingLocked()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if old == StateDisconnected {
		return
	}
	log.Printf("conn: disconnected")
	m.emitState(old, StateDisconnected)
	m.emitter.EmitDisconnected(nil, true)
}

func (m *Manager) readLoop(ch Channel, gen uint64) {
	for {
		data, err := ch.Receive()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		m.handleRaw(data)
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) handleRaw(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Printf("conn: dropping message: %v", err)
		return
	}
	if env.CorID != "" && m.deliverReply(env) {
		m.emitter.EmitMessage(env)
		return
	}
	switch env.Type {
	case protocol.TypeAuthenticated:
		m.handleAuthenticated()
	case protocol.TypeAuthError:
		var p protocol.AuthError
		if len(env.Payload) > 0 {
			if err := env.DecodePayload(&p); err != nil {
				log.Printf("conn: auth_error payload: %v", err)
			}
		}
		log.Printf("conn: authentication rejected: %s %s", p.Code, p.Message)
		m.emitter.EmitAuthError(&AuthError{Code: p.Code, Message: p.Message})
	case protocol.TypeHeartbeatAck:
		m.mu.Lock()
		m.missed = 0
		m.mu.Unlock()
	}
	m.ingest.Dispatch(env)
	m.emitter.EmitMessage(env)
}

// deliverReply hands env to the Request waiting on its correlation id and
// reports whether one was waiting.
func (m *Manager) deliverReply(env *protocol.Envelope) bool {
	m.mu.Lock()
	reply, ok := m.pending[env.CorID]
	if ok {
		delete(m.pending, env.CorID)
	}
	m.mu.Unlock()
	if ok {
		reply <- env
	}
	return ok
}

func (m *Manager) handleAuthenticated() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	old := m.setStateLocked(StateAuthenticated)
	m.attempt = 0
	m.missed = 0
	m.authedAt = m.clock.Now()
	m.startHeartbeatLocked()
	var topics []string
	seen := make(map[string]bool)
	for _, t := range m.opts.Topics {
		if !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}
	requested := make([]string, 0, len(m.topics))
	for t := range m.topics {
		if !seen[t] {
			requested = append(requested, t)
		}
	}
	sort.Strings(requested)
	topics = append(topics, requested...)
	m.mu.Unlock()

	log.Printf("conn: authenticated")
	m.emitState(old, StateAuthenticated)
	m.emitter.EmitAuthenticated()
	if len(topics) > 0 {
		if err := m.Send(protocol.TypeSubscribe, &protocol.Subscribe{Topics: topics}); err != nil {
			log.Printf("conn: subscribe: %v", err)
		}
	}
}

func (m *Manager) startHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.opts.HeartbeatInterval <= 0 {
		return
	}
	gen := m.gen
	m.heartbeat = m.clock.AfterFunc(m.opts.HeartbeatInterval, func() { m.heartbeatTick(gen) })
}

func (m *Manager) heartbeatTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	if m.opts.MaxMissedAcks > 0 && m.missed >= m.opts.MaxMissedAcks {
		missed := m.missed
		m.mu.Unlock()
		log.Printf("conn: %d heartbeats unacknowledged, dropping connection", missed)
		m.handleClose(gen, ErrHeartbeatTimeout)
		return
	}
	m.missed++
	uptime := m.clock.Now().Sub(m.authedAt)
	m.heartbeat = m.clock.AfterFunc(m.opts.HeartbeatInterval, func() { m.heartbeatTick(gen) })
	m.mu.Unlock()

	if err := m.Send(protocol.TypeHeartbeat, &protocol.Heartbeat{Uptime: int64(uptime / time.Second)}); err != nil {
		log.Printf("conn: heartbeat: %v", err)
	}
}

// handleClose reacts to an unexpected close of the channel opened in
// generation gen. Closes from stale generations and manual disconnects are
// ignored.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.manual {
		m.mu.Unlock()
		return
	}
	m.gen++
	ch := m.ch
	m.ch = nil
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	old := m.setStateLocked(StateReconnecting)
	m.failPendingLocked()
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	log.Printf("conn: connection lost: %v", cause)
	m.emitState(old, StateReconnecting)
	m.emitter.EmitDisconnected(cause, false)
}

// scheduleReconnectLocked arms the reconnect timer. At most one is pending.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil || m.manual {
		return
	}
	m.attempt++
	delay := m.opts.Backoff.Delay(m.attempt)
	log.Printf("conn: reconnecting in %v (attempt %d)", delay.Round(time.Millisecond), m.attempt)
	m.reconnect = m.clock.AfterFunc(delay, m.reconnectFired)
}

func (m *Manager) reconnectFired() {
	m.mu.Lock()
	m.reconnect = nil
	if m.manual {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if err := m.Connect(context.Background()); err != nil {
		log.Printf("conn: reconnect: %v", err)
	}
}

func (m *Manager) stopTimersLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) failPendingLocked() {
	for id, reply := range m.pending {
		close(reply)
		delete(m.pending, id)
	}
}

func (m *Manager) setStateLocked(s State) State {
	old := m.state
	m.state = s
	return old
}

func (m *Manager) emitState(old, s State) {
	if old != s {
		m.emitter.EmitStateChanged(old, s)
	}
}
