// Package engine runs the location telemetry loop and the reward accrual clock
// and owns the sharing toggle that starts and stops them as a pair.
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/captur/internal/clock"
	"github.com/vadiminshakov/captur/internal/domain"
	"github.com/vadiminshakov/captur/internal/events"
	"github.com/vadiminshakov/captur/internal/location"
)

// SharingPreferenceKey is the preference store key of the sharing toggle.
const SharingPreferenceKey = "captur_location_sharing"

const (
	defaultTelemetryInterval = time.Second
	defaultAccrualInterval   = time.Second
	defaultDrainTimeout      = 5 * time.Second
)

var defaultMaxIncrement = decimal.RequireFromString("0.05")

var (
	// ErrNotRunning the engine has not been initialized or was shut down.
	ErrNotRunning = errors.New("engine is not running")
	// ErrAlreadyInitialized Initialize was called on a running engine.
	ErrAlreadyInitialized = errors.New("engine is already initialized")
)

// SessionProvider resolves the signed-in user.
type SessionProvider interface {
	// CurrentUserID returns "" when nobody is signed in.
	CurrentUserID(ctx context.Context) (string, error)
}

// PreferenceStore persists device-local preferences.
type PreferenceStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Ledger is the remote balance and sample store.
type Ledger interface {
	// GetBalance returns domain.ErrNotFound when the user has no balance yet.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	InsertSample(ctx context.Context, sample domain.PositionSample) error
}

type randomSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

type fastRandom struct{}

func (fastRandom) Float64() float64 { return fastrand.Float64() }

// Config holds the engine cadence and accrual policy.
type Config struct {
	TelemetryInterval time.Duration
	AccrualInterval   time.Duration
	// MaxIncrement bounds the random increment drawn per accrual tick.
	MaxIncrement decimal.Decimal
	// OpTimeout bounds each location and ledger call; zero means no timeout.
	OpTimeout time.Duration
	// DrainTimeout bounds how long Shutdown waits for in-flight ledger writes.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TelemetryInterval == 0 {
		c.TelemetryInterval = defaultTelemetryInterval
	}
	if c.AccrualInterval == 0 {
		c.AccrualInterval = defaultAccrualInterval
	}
	if c.MaxIncrement.IsZero() {
		c.MaxIncrement = defaultMaxIncrement
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.TelemetryInterval < 0 || c.AccrualInterval < 0 {
		return errors.New("tick intervals must be positive")
	}
	if c.MaxIncrement.IsNegative() {
		return errors.Errorf("max increment must not be negative, got %s", c.MaxIncrement)
	}
	if c.OpTimeout < 0 || c.DrainTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the real clock, used by tests to drive ticks.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRandom replaces the source of accrual increments.
func WithRandom(r randomSource) Option {
	return func(e *Engine) {
		e.rnd = r
	}
}

// WithBroadcaster publishes state to an existing broadcaster.
func WithBroadcaster(b *events.StateBroadcaster) Option {
	return func(e *Engine) {
		e.events = b
	}
}

// Engine owns the sharing state and the lifecycle of both loops.
type Engine struct {
	l       *zap.Logger
	cfg     Config
	clock   clock.Clock
	rnd     randomSource
	session SessionProvider
	source  location.Source
	prefs   PreferenceStore
	ledger  Ledger
	events  *events.StateBroadcaster

	// lifecycleMu serializes Initialize, SetEnabled, Shutdown and identity
	// reloads. It is never taken by loop goroutines, so stopping a loop may
	// wait for it while holding lifecycleMu.
	lifecycleMu sync.Mutex

	// mu guards state. Ticks hold it only for the in-memory update, never across I/O.
	mu    sync.Mutex
	state domain.State

	loops    *loopPair
	writer   *balanceWriter
	inflight sync.WaitGroup
	ioCtx    context.Context
	ioCancel context.CancelFunc
}

// New creates an engine in the uninitialized state.
func New(l *zap.Logger, cfg Config, session SessionProvider, source location.Source, prefs PreferenceStore,
	ledger Ledger, opts ...Option) (*Engine, error) {
	if session == nil || source == nil || prefs == nil || ledger == nil {
		return nil, errors.New("engine collaborators must not be nil")
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid engine config")
	}
	if l == nil {
		l = zap.NewNop()
	}

	e := &Engine{
		l:       l,
		cfg:     cfg,
		clock:   clock.Real(),
		rnd:     fastRandom{},
		session: session,
		source:  source,
		prefs:   prefs,
		ledger:  ledger,
		state: domain.State{
			Status:  domain.StatusUninitialized,
			Balance: decimal.Zero,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = events.NewStateBroadcaster(0)
	}

	return e, nil
}

// Initialize loads the sharing preference, the user and the balance, then
// starts both loops if sharing is enabled. Collaborator failures degrade to
// enabled=true and balance=0 instead of failing startup.
func (e *Engine) Initialize(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if e.state.Status.Running() || e.state.Status == domain.StatusInitializing {
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	e.state = domain.State{
		Status:    domain.StatusInitializing,
		Balance:   decimal.Zero,
		UpdatedAt: e.clock.Now(),
	}
	e.events.Publish(e.state)
	e.mu.Unlock()

	enabled := e.loadSharingPreference()
	userID := e.resolveUser(ctx)
	balance := decimal.Zero
	if userID != "" {
		balance = e.loadBalance(ctx, userID)
	}

	e.ioCtx, e.ioCancel = context.WithCancel(context.Background())
	e.writer = newBalanceWriter(e.l, e.ledger, e.ioCtx, e.cfg.OpTimeout)

	e.mu.Lock()
	e.state.Enabled = enabled
	e.state.Balance = balance
	e.state.UserID = userID
	e.state.Status = statusFor(enabled)
	e.state.UpdatedAt = e.clock.Now()
	e.events.Publish(e.state)
	e.mu.Unlock()

	if enabled {
		e.startLoops()
	}

	e.l.Info("Engine initialized",
		zap.Bool("sharing_enabled", enabled),
		zap.Bool("signed_in", userID != ""),
		zap.String("balance", balance.StringFixed(domain.BalancePlaces)))

	return nil
}

// SetEnabled persists the sharing preference and starts or stops both loops.
// A preference write failure is logged; the toggle still takes effect for
// this session. Calling it with the current value only re-persists.
func (e *Engine) SetEnabled(enabled bool) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if !e.state.Status.Running() {
		e.mu.Unlock()
		return ErrNotRunning
	}
	wasEnabled := e.state.Enabled
	e.mu.Unlock()

	if err := e.prefs.Set(SharingPreferenceKey, strconv.FormatBool(enabled)); err != nil {
		e.l.Error("failed to save location sharing state", zap.Error(err))
	}

	if wasEnabled == enabled {
		return nil
	}

	if enabled {
		e.mu.Lock()
		e.state.Enabled = true
		e.state.Status = domain.StatusActive
		// a fresh start re-asks for permission
		e.state.TelemetryBlocked = false
		e.state.UpdatedAt = e.clock.Now()
		e.mu.Unlock()
		e.startLoops()
	} else {
		e.stopLoops()
		e.mu.Lock()
		e.state.Enabled = false
		e.state.Status = domain.StatusIdle
		e.state.UpdatedAt = e.clock.Now()
		e.mu.Unlock()
	}

	e.l.Info("Location sharing toggled", zap.Bool("enabled", enabled))
	e.publish()

	return nil
}

// Shutdown stops both loops and waits for in-flight ledger writes, bounded by
// the drain timeout. It is safe to call in any state and more than once.
func (e *Engine) Shutdown() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.stopLoops()
	e.drain()

	e.mu.Lock()
	if e.state.Status == domain.StatusShutdown {
		e.mu.Unlock()
		return
	}
	e.state.Status = domain.StatusShutdown
	e.state.UpdatedAt = e.clock.Now()
	balance := e.state.Balance
	e.events.Publish(e.state)
	e.mu.Unlock()

	e.l.Info("Engine stopped", zap.String("balance", balance.StringFixed(domain.BalancePlaces)))
}

// ReloadIdentity re-resolves the signed-in user. When the user changed, the
// balance is reloaded from the ledger instead of carrying the previous
// user's working copy over.
func (e *Engine) ReloadIdentity(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	e.mu.Lock()
	if !e.state.Status.Running() {
		e.mu.Unlock()
		return ErrNotRunning
	}
	current := e.state.UserID
	e.mu.Unlock()

	userID := e.resolveUser(ctx)
	if userID == current {
		return nil
	}

	balance := decimal.Zero
	if userID != "" {
		balance = e.loadBalance(ctx, userID)
	}

	e.mu.Lock()
	e.state.UserID = userID
	e.state.Balance = balance
	e.state.UpdatedAt = e.clock.Now()
	e.mu.Unlock()

	e.l.Info("User changed, balance reloaded",
		zap.String("user_id", userID),
		zap.String("balance", balance.StringFixed(domain.BalancePlaces)))
	e.publish()

	return nil
}

// RequestLocationPermission asks the location source again, e.g. after the
// user granted access in system settings. A grant unblocks telemetry.
func (e *Engine) RequestLocationPermission(ctx context.Context) error {
	e.mu.Lock()
	running := e.state.Status.Running()
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	perm, err := e.source.RequestPermission(callCtx)
	if err != nil {
		return errors.Wrap(err, "request location permission")
	}

	e.setTelemetryBlocked(perm != location.PermissionGranted)
	return nil
}

// CurrentBalance returns the in-memory balance.
func (e *Engine) CurrentBalance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Balance
}

// State returns a snapshot of the engine state.
func (e *Engine) State() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe returns a channel of state snapshots, starting with the latest one.
func (e *Engine) Subscribe() chan domain.State {
	return e.events.Subscribe()
}

// Unsubscribe closes a channel returned by Subscribe.
func (e *Engine) Unsubscribe(ch chan domain.State) {
	e.events.Unsubscribe(ch)
}

func (e *Engine) loadSharingPreference() bool {
	stored, ok, err := e.prefs.Get(SharingPreferenceKey)
	if err != nil {
		e.l.Error("Error loading location sharing state, defaulting to enabled", zap.Error(err))
		return true
	}
	if !ok {
		if err := e.prefs.Set(SharingPreferenceKey, strconv.FormatBool(true)); err != nil {
			e.l.Error("failed to save default location sharing state", zap.Error(err))
		}
		return true
	}

	return stored == strconv.FormatBool(true)
}

func (e *Engine) resolveUser(ctx context.Context) string {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	userID, err := e.session.CurrentUserID(callCtx)
	if err != nil {
		e.l.Warn("Could not retrieve user session", zap.Error(err))
		return ""
	}
	if userID == "" {
		e.l.Info("User not logged in, remote writes disabled")
	}

	return userID
}

func (e *Engine) loadBalance(ctx context.Context, userID string) decimal.Decimal {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	balance, err := e.ledger.GetBalance(callCtx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		e.l.Info("No balance found for user, defaulting to 0", zap.String("user_id", userID))
		return decimal.Zero
	}
	if err != nil {
		e.l.Error("Error fetching balance, defaulting to 0", zap.String("user_id", userID), zap.Error(err))
		return decimal.Zero
	}

	return domain.NormalizeBalance(balance)
}

func (e *Engine) setTelemetryBlocked(blocked bool) {
	e.mu.Lock()
	if e.state.TelemetryBlocked == blocked {
		e.mu.Unlock()
		return
	}
	e.state.TelemetryBlocked = blocked
	e.state.UpdatedAt = e.clock.Now()
	e.events.Publish(e.state)
	e.mu.Unlock()

	if blocked {
		e.l.Warn("Permission to access location was denied, telemetry blocked")
	} else {
		e.l.Info("Location permission granted, telemetry resumed")
	}
}

// publish broadcasts the current state. Snapshots are always published under
// mu, so subscribers receive them in the order the state changed.
func (e *Engine) publish() {
	e.mu.Lock()
	e.events.Publish(e.state)
	e.mu.Unlock()
}

// drain waits for queued balance writes and sample inserts. Once the drain
// timeout passes, their contexts are cancelled and they are awaited again.
func (e *Engine) drain() {
	if e.ioCancel == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		e.writer.Wait()
		e.inflight.Wait()
		close(done)
	}()

	timer := e.clock.NewTimer(e.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.l.Warn("Ledger writes still pending at shutdown, cancelling", zap.Duration("drain_timeout", e.cfg.DrainTimeout))
		e.ioCancel()
		<-done
	}
	e.ioCancel()
}

func (e *Engine) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OpTimeout > 0 {
		return context.WithTimeout(parent, e.cfg.OpTimeout)
	}
	return context.WithCancel(parent)
}

func statusFor(enabled bool) domain.Status {
	if enabled {
		return domain.StatusActive
	}
	return domain.StatusIdle
}
