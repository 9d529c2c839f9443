// Package usersync registers a newly signed-in identity with the backend.
//
// The handshake waits for the identity session to produce a token, then
// posts the user's profile to /users exactly once. Any terminal outcome is
// sticky for the lifetime of a Syncer, including failures, so a broken
// backend never causes a retry storm.
package usersync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/pkg/metrics"
)

const (
	// DefaultInitialDelay is the wait before the first token check
	DefaultInitialDelay = 500 * time.Millisecond
	// DefaultPollInterval is the wait between token checks
	DefaultPollInterval = 1 * time.Second

	usersPath = "/users"
)

// ErrInProgress is returned by Run when another run already owns the handshake
var ErrInProgress = errors.New("user sync already in progress")

// State is the position of a Syncer in the handshake
type State int

const (
	StateIdle State = iota
	StatePolling
	StateSyncing
	StateSynced
	StateSyncedAfterError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	case StateSyncedAfterError:
		return "synced_after_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further sync attempts will be made
func (s State) Terminal() bool {
	return s == StateSynced || s == StateSyncedAfterError
}

// Poster is the part of the API client the handshake needs
type Poster interface {
	Post(ctx context.Context, path string, body any) (*client.Response, error)
}

// Profile is the snapshot of the signed-in user sent to the backend
type Profile struct {
	ClerkID   string `json:"clerkId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	PhotoURL  string `json:"photoUrl"`
}

// ProfileFromUser builds the snapshot sent to POST /users
func ProfileFromUser(u client.User) Profile {
	return Profile{
		ClerkID:   u.ID,
		Email:     u.PrimaryEmail,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		PhotoURL:  u.ImageURL,
	}
}

// Syncer runs the user sync handshake for one session
type Syncer struct {
	poster       Poster
	session      client.Session
	initialDelay time.Duration
	pollInterval time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	state   State
	running bool
}

// Option configures a Syncer
type Option func(*Syncer)

// WithInitialDelay overrides the wait before the first token check
func WithInitialDelay(d time.Duration) Option {
	return func(s *Syncer) { s.initialDelay = d }
}

// WithPollInterval overrides the wait between token checks
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) { s.pollInterval = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// New creates a Syncer in the Idle state
func New(poster Poster, session client.Session, opts ...Option) *Syncer {
	s := &Syncer{
		poster:       poster,
		session:      session,
		initialDelay: DefaultInitialDelay,
		pollInterval: DefaultPollInterval,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "user_sync"))
	return s
}

// State returns the current state
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Synced reports whether the handshake reached a terminal state
func (s *Syncer) Synced() bool {
	return s.State().Terminal()
}

func (s *Syncer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Handle controls a handshake started with Start
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop cancels the handshake and waits for it to finish.
// No timer fires and no request is issued after Stop returns.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the handshake finishes
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the result of Run once Done is closed
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Start runs the handshake in the background
func (s *Syncer) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.err = s.Run(ctx)
	}()
	return h
}

// Run performs the handshake and blocks until it reaches a terminal state or
// ctx is cancelled. Once terminal, Run returns nil without any network call.
// Backend failures are logged and absorbed; only cancellation is returned,
// and it leaves the syncer idle.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	user, err := s.waitForSession(ctx)
	if err != nil {
		s.setState(StateIdle)
		s.log.Debug("user sync cancelled while waiting for session")
		return err
	}

	s.setState(StateSyncing)
	state := s.sync(ctx, user)
	s.setState(state)
	if state == StateIdle {
		return ctx.Err()
	}
	return nil
}

// waitForSession polls until the session is loaded, signed in and able to
// produce a token. The syncer stays idle until the initial delay elapses.
func (s *Syncer) waitForSession(ctx context.Context) (client.User, error) {
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return client.User{}, ctx.Err()
		case <-timer.C:
		}
		if s.State() == StateIdle {
			s.setState(StatePolling)
		}

		if user, ok := s.ready(ctx); ok {
			return user, nil
		}
		metrics.UserSyncPolls.Inc()
		timer.Reset(s.pollInterval)
	}
}

func (s *Syncer) ready(ctx context.Context) (client.User, bool) {
	token, err := s.session.GetToken(ctx, client.TokenOptions{})
	if err != nil {
		s.log.Debug("error checking auth state", slog.String("error", err.Error()))
		return client.User{}, false
	}
	if token == "" {
		s.log.Debug("no authentication token available for user sync")
		return client.User{}, false
	}
	if !s.session.IsLoaded() || !s.session.IsSignedIn() {
		return client.User{}, false
	}
	return s.session.User()
}

func (s *Syncer) sync(ctx context.Context, user client.User) State {
	_, err := s.poster.Post(ctx, usersPath, ProfileFromUser(user))
	if err == nil {
		s.log.Info("user synced successfully", slog.String("user_id", user.ID))
		metrics.UserSyncs.WithLabelValues("synced").Inc()
		return StateSynced
	}

	// Torn down mid-request: nothing was decided, so the next run starts over
	if ctx.Err() != nil {
		s.log.Debug("user sync cancelled during request", slog.String("user_id", user.ID))
		return StateIdle
	}

	switch client.StatusCode(err) {
	case http.StatusConflict, http.StatusForbidden:
		// Already registered, or not allowed to register; neither is worth surfacing
		s.log.Debug("user sync skipped",
			slog.String("user_id", user.ID),
			slog.Int("status_code", client.StatusCode(err)))
		metrics.UserSyncs.WithLabelValues("skipped").Inc()
	default:
		s.log.Error("user sync failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()))
		metrics.UserSyncs.WithLabelValues("failed").Inc()
	}
	return StateSyncedAfterError
}
