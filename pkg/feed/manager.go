package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/arbsync/internal/metrics"
	"github.com/gregtusar/arbsync/pkg/freshness"
	"github.com/gregtusar/arbsync/pkg/models"
	"github.com/gregtusar/arbsync/pkg/socketio"
	"github.com/gregtusar/arbsync/pkg/wire"
)

// Inbound and outbound socket event names.
const (
	EventNameHello        = "hello"
	EventNameClientData   = "client_data"
	EventNameRequestHello = "request_hello"
)

const (
	DefaultReconnectMin = time.Second
	DefaultReconnectMax = 5 * time.Second
)

// Labels for arbsync_dropped_events_total.
const (
	dropUnknownEvent = "unknown_event"
	dropOtherType    = "client_data_other_type"
	dropUndecodable  = "undecodable"
)

var ErrAlreadyStarted = errors.New("feed: manager already started")

type Conn interface {
	ReadEvent() (socketio.Event, error)
	Emit(event string, args ...interface{}) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// SocketDialer dials the real Socket.IO server.
type SocketDialer struct {
	Options socketio.Options
}

func (d SocketDialer) Dial(ctx context.Context) (Conn, error) {
	c, err := socketio.Dial(ctx, d.Options)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ProfitTracker receives every accepted snapshot.
type ProfitTracker interface {
	Consider(snap models.ArbitrageSnapshot) (models.HighestProfitRecord, bool)
	Record() *models.HighestProfitRecord
}

type Config struct {
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	ReconnectFactor float64
	StaleWindow     time.Duration
	Now             func() time.Time
}

// Manager owns the socket lifecycle. All state changes happen on the single
// run goroutine; readers take a snapshot under mu.
type Manager struct {
	dialer  Dialer
	tracker ProfitTracker
	logger  *logrus.Entry
	now     func() time.Time
	fresh   *freshness.Evaluator
	backoff *backoff.Backoff
	warn    *rate.Limiter

	mu         sync.RWMutex
	phase      models.ConnectionPhase
	state      models.ConnectionState
	hello      *models.HelloMessage
	snapshot   *models.ArbitrageSnapshot
	lastUpdate time.Time
	attempts   int
	conn       Conn
	started    bool
	stopped    bool

	// set while a listener runs on the run goroutine
	inListener atomic.Bool

	subs subscribers

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(dialer Dialer, tracker ProfitTracker, cfg Config, logger *logrus.Logger) *Manager {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.ReconnectFactor < 1 {
		cfg.ReconnectFactor = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		dialer:  dialer,
		tracker: tracker,
		logger:  logger.WithField("component", "feed"),
		now:     cfg.Now,
		fresh:   freshness.NewEvaluator(cfg.StaleWindow, cfg.Now),
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectMin,
			Max:    cfg.ReconnectMax,
			Factor: cfg.ReconnectFactor,
		},
		warn:  rate.NewLimiter(rate.Every(10*time.Second), 5),
		phase: models.PhaseDisconnected,
		done:  make(chan struct{}),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Stop tears the connection down and releases every listener. No listener is
// called after Stop returns. Called from inside a listener, Stop does not wait
// for the run loop; it winds down as soon as the listener returns.
func (m *Manager) Stop() {
	m.subs.close()

	m.mu.Lock()
	started := m.started
	m.started = true
	m.stopped = true
	cancel := m.cancel
	conn := m.conn
	m.mu.Unlock()
	if !started {
		close(m.done)
	}

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if !m.inListener.Load() {
		<-m.done
	}

	m.mu.Lock()
	m.phase = models.PhaseDisconnected
	m.state = models.ConnectionState{}
	m.hello = nil
	m.snapshot = nil
	m.mu.Unlock()
	metrics.Connected.Set(0)
	m.logger.Info("Feed stopped")
}

// Subscribe registers fn for every event. The returned func removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	return m.subs.add(fn)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for ctx.Err() == nil {
		m.setPhase(models.PhaseConnecting)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleConnectError(err)
			if !m.wait(ctx, m.backoff.Duration()) {
				return
			}
			continue
		}

		if !m.attach(ctx, conn) {
			conn.Close()
			return
		}
		m.backoff.Reset()
		m.handleConnect(conn)

		reason := m.readLoop(ctx, conn)
		conn.Close()
		m.detach()
		if ctx.Err() != nil {
			return
		}

		m.handleDisconnect(reason)
		if !m.wait(ctx, m.backoff.Duration()) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()
	metrics.ConnectAttempts.Inc()

	m.logger.WithField("attempt", attempt).Debug("Connecting")
	return m.dialer.Dial(ctx)
}

func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) detach() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
}

func (m *Manager) wait(ctx context.Context, delay time.Duration) bool {
	m.logger.WithField("delay", delay.String()).Debug("Waiting before reconnect")
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) string {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			return socketio.Reason(err)
		}
		if ctx.Err() != nil {
			return socketio.ReasonClientDisconnect
		}
		m.dispatch(ev)
	}
}

// publish runs on the run goroutine only.
func (m *Manager) publish(ev Event) {
	m.inListener.Store(true)
	defer m.inListener.Store(false)
	m.subs.publish(ev)
}

func (m *Manager) setPhase(p models.ConnectionPhase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

func (m *Manager) handleConnect(conn Conn) {
	m.mu.Lock()
	m.phase = models.PhaseConnected
	m.state = models.ConnectionState{Connected: true}
	state := m.state
	m.mu.Unlock()

	metrics.Connected.Set(1)
	m.logger.Info("Connected to arbitrage feed")

	if err := conn.Emit(EventNameRequestHello); err != nil {
		m.logger.WithError(err).Warn("Failed to request hello")
	}
	m.publish(Event{Type: EventConnectionState, Connection: state, Time: m.now()})
}

func (m *Manager) handleDisconnect(reason string) {
	m.mu.Lock()
	m.phase = models.PhaseDisconnected
	m.state.Connected = false
	m.hello = nil
	m.snapshot = nil
	state := m.state
	m.mu.Unlock()

	metrics.Connected.Set(0)
	metrics.Disconnects.Inc()
	m.logger.WithField("reason", reason).Warn("Disconnected from arbitrage feed")
	m.publish(Event{Type: EventConnectionState, Connection: state, Reason: reason, Time: m.now()})
}

func (m *Manager) handleConnectError(err error) {
	msg := err.Error()

	m.mu.Lock()
	m.phase = models.PhaseDisconnected
	m.state.Connected = false
	m.state.LastError = &msg
	state := m.state
	attempt := m.attempts
	m.mu.Unlock()

	metrics.Connected.Set(0)
	metrics.ConnectErrors.Inc()
	m.logger.WithError(err).WithField("attempt", attempt).Error("Connection error")

	now := m.now()
	m.publish(Event{Type: EventError, Err: err, Connection: state, Time: now})
	m.publish(Event{Type: EventConnectionState, Connection: state, Time: now})
}

func (m *Manager) dispatch(ev socketio.Event) {
	switch ev.Name {
	case EventNameHello:
		m.handleHello(ev.Arg(0))
	case EventNameClientData:
		m.handleClientData(ev.Arg(0))
	default:
		m.drop(dropUnknownEvent, ev.Name, "unrecognized event")
	}
}

func (m *Manager) handleHello(raw json.RawMessage) {
	var hello models.HelloMessage
	if err := json.Unmarshal(raw, &hello); err != nil {
		m.drop(dropUndecodable, EventNameHello, "undecodable hello payload")
		return
	}

	now := m.now()
	m.mu.Lock()
	m.hello = &hello
	m.lastUpdate = now
	m.mu.Unlock()

	m.logger.WithField("message", hello.Message).Debug("Received hello")
	m.publish(Event{Type: EventHello, Hello: &hello, Time: now})
}

func (m *Manager) handleClientData(raw json.RawMessage) {
	cd, err := wire.ParseClientData(raw)
	if err != nil {
		m.drop(dropUndecodable, EventNameClientData, err.Error())
		return
	}
	if cd.Type != wire.UpdateTypeArbitrage {
		m.drop(dropOtherType, EventNameClientData+":"+cd.Type, "ignored client_data type")
		return
	}

	snap := wire.NormalizeJSON(cd.Data)
	if ts, ok := cd.ServerTime(); ok {
		snap.ServerTime = &ts
	}

	now := m.now()
	m.mu.Lock()
	m.snapshot = &snap
	m.lastUpdate = now
	m.mu.Unlock()

	metrics.Updates.WithLabelValues(string(snap.Status)).Inc()
	m.logger.WithFields(logrus.Fields{
		"status":        snap.Status,
		"opportunities": len(snap.Opportunities),
	}).Debug("Arbitrage update")

	published := snap.Clone()
	m.publish(Event{Type: EventDataUpdate, Snapshot: &published, Time: now})

	if m.tracker == nil || m.isStopped() {
		return
	}
	if rec, changed := m.tracker.Consider(snap); changed {
		m.publish(Event{Type: EventHighestProfit, HighestProfit: &rec, Time: now})
	}
}

// drop counts under a fixed label; the server-chosen name only reaches the log.
func (m *Manager) drop(kind, event, why string) {
	metrics.DroppedEvents.WithLabelValues(kind).Inc()
	if m.warn.Allow() {
		m.logger.WithFields(logrus.Fields{
			"event":  event,
			"reason": why,
		}).Warn("Dropping inbound event")
	}
}

func (m *Manager) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

func (m *Manager) Phase() models.ConnectionPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Manager) ConnectionState() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.state
	if state.LastError != nil {
		msg := *state.LastError
		state.LastError = &msg
	}
	return state
}

func (m *Manager) Hello() *models.HelloMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hello == nil {
		return nil
	}
	h := *m.hello
	return &h
}

func (m *Manager) Snapshot() *models.ArbitrageSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil
	}
	snap := m.snapshot.Clone()
	return &snap
}

// LastUpdate returns when the last hello or data update was accepted.
func (m *Manager) LastUpdate() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate, !m.lastUpdate.IsZero()
}

func (m *Manager) IsFresh() bool {
	last, _ := m.LastUpdate()
	return m.fresh.IsFresh(last)
}

func (m *Manager) HighestProfit() *models.HighestProfitRecord {
	if m.tracker == nil {
		return nil
	}
	return m.tracker.Record()
}

// Attempts is the number of connection attempts made so far.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

func (m *Manager) Status() models.SyncStatus {
	st := models.SyncStatus{
		Phase:         m.Phase(),
		Connection:    m.ConnectionState(),
		Hello:         m.Hello(),
		Snapshot:      m.Snapshot(),
		Fresh:         m.IsFresh(),
		HighestProfit: m.HighestProfit(),
	}
	if last, ok := m.LastUpdate(); ok {
		st.LastUpdate = &last
	}
	return st
}
