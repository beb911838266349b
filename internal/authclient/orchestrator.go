package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/config"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

const scheduledRefreshTimeout = 30 * time.Second

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")
)

// State is what the rest of the application sees of authentication.
type State struct {
	Authenticated bool
	User          *model.User
	AuthMethod    model.AuthMethod
	Error         string
}

type stopper interface {
	Stop() bool
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithoutScheduler disables background refresh. Tokens are then rotated
// only by RefreshToken or by a 401 seen in Do.
func WithoutScheduler() Option {
	return func(o *Orchestrator) { o.manual = true }
}

// withTimer replaces time.AfterFunc for the refresh scheduler.
func withTimer(afterFunc func(d time.Duration, f func()) stopper) Option {
	return func(o *Orchestrator) { o.afterFunc = afterFunc }
}

// Orchestrator drives sign-in, keeps the token pair in a Store and refreshes
// it ahead of expiry.
type Orchestrator struct {
	api         *APIClient
	store       Store
	botUsername string
	now         func() time.Time
	afterFunc   func(d time.Duration, f func()) stopper
	manual      bool

	// refreshMu is held by every operation that replaces or clears the
	// stored pair, so a refresh never races a sign-in or sign-out.
	refreshMu sync.Mutex

	mu        sync.Mutex
	creds     *Credentials
	state     State
	timer     stopper
	timerGen  uint64
	closed    bool
	listeners []func(State)
}

func New(api *APIClient, store Store, botUsername string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:         api,
		store:       store,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// refreshDelay is how long to wait before refreshing a token that expires at expiresAt.
func refreshDelay(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now) - config.RefreshLeadTime
	if d < 0 {
		return 0
	}
	return d
}

// Restore loads stored credentials. The restore is optimistic: the server may
// still reject the session, which surfaces through Do.
func (o *Orchestrator) Restore() error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	creds, err := o.store.Load()
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if creds == nil {
		o.setState(nil, State{})
		return nil
	}

	if !creds.RefreshExpiresAt.After(o.now()) {
		log.Info().Msg("stored session expired, clearing credentials")
		return o.clear(State{})
	}

	var user model.User
	if err := json.Unmarshal(creds.User, &user); err != nil {
		log.Warn().Err(err).Msg("stored user data unreadable, clearing credentials")
		return o.clear(State{})
	}

	method := creds.AuthMethod
	if method == "" {
		method = model.AuthMethodWebApp
	}
	o.setState(creds, State{Authenticated: true, User: &user, AuthMethod: method})
	o.schedule(creds.ExpiresAt)
	return nil
}

// InitiateBotAuth returns the bot link the user opens to start a handshake.
func (o *Orchestrator) InitiateBotAuth() string {
	return fmt.Sprintf("https://t.me/%s?start=webapp", url.PathEscape(o.botUsername))
}

// CompleteBotAuth redeems a handshake hash. userData is the Telegram user
// object when the client has one, and may be nil.
func (o *Orchestrator) CompleteBotAuth(ctx context.Context, authHash string, userData json.RawMessage) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	login, err := o.api.Complete(ctx, authHash, userData)
	if err != nil {
		o.setError("bot authentication failed")
		return fmt.Errorf("complete bot auth: %w", err)
	}
	return o.signIn(login, model.AuthMethodBot)
}

// AuthenticateWebApp signs in with signed init data. Any failure clears stored credentials.
func (o *Orchestrator) AuthenticateWebApp(ctx context.Context, initData string) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	if initData == "" {
		_ = o.clear(State{Error: "webapp authentication failed"})
		return ErrNotAuthenticated
	}

	login, err := o.api.WebApp(ctx, initData)
	if err != nil {
		if clearErr := o.clear(State{Error: "webapp authentication failed"}); clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear credentials")
		}
		return fmt.Errorf("webapp auth: %w", err)
	}
	return o.signIn(login, model.AuthMethodWebApp)
}

// signIn stores a new pair. Callers hold refreshMu.
func (o *Orchestrator) signIn(login *Login, method model.AuthMethod) error {
	var user model.User
	if err := json.Unmarshal(login.User, &user); err != nil {
		o.setError("sign-in response unreadable")
		return fmt.Errorf("decode user: %w", err)
	}

	creds := &Credentials{
		AccessToken:      login.Tokens.AccessToken,
		RefreshToken:     login.Tokens.RefreshToken,
		ExpiresAt:        login.Tokens.ExpiresAt,
		RefreshExpiresAt: login.Tokens.RefreshExpiresAt,
		User:             login.User,
		AuthMethod:       method,
	}
	if err := o.store.Save(creds); err != nil {
		o.setError("could not store credentials")
		return fmt.Errorf("saving credentials: %w", err)
	}

	o.setState(creds, State{Authenticated: true, User: &user, AuthMethod: method})
	o.schedule(creds.ExpiresAt)
	log.Info().Str("userId", user.ID).Str("method", string(method)).Msg("signed in")
	return nil
}

// RefreshToken rotates the token pair. A failure signs the user out.
func (o *Orchestrator) RefreshToken(ctx context.Context) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
	return o.refresh(ctx)
}

// refreshIfCurrent refreshes unless the pair that produced a 401 has already
// been replaced by another refresh.
func (o *Orchestrator) refreshIfCurrent(ctx context.Context, usedAccessToken string) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	o.mu.Lock()
	replaced := o.creds != nil && o.creds.AccessToken != usedAccessToken
	o.mu.Unlock()
	if replaced {
		return nil
	}
	return o.refresh(ctx)
}

func (o *Orchestrator) refresh(ctx context.Context) error {
	o.mu.Lock()
	creds := o.creds
	o.mu.Unlock()

	if creds == nil {
		return o.expire(ErrNotAuthenticated)
	}

	tokens, err := o.api.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return o.expire(err)
	}

	next := *creds
	next.AccessToken = tokens.AccessToken
	next.RefreshToken = tokens.RefreshToken
	next.ExpiresAt = tokens.ExpiresAt
	next.RefreshExpiresAt = tokens.RefreshExpiresAt
	if err := o.store.Save(&next); err != nil {
		return o.expire(err)
	}

	o.mu.Lock()
	o.creds = &next
	o.mu.Unlock()
	o.schedule(next.ExpiresAt)
	log.Debug().Time("expiresAt", next.ExpiresAt).Msg("access token refreshed")
	return nil
}

func (o *Orchestrator) expire(cause error) error {
	log.Warn().Err(cause).Msg("token refresh failed, signing out")
	if err := o.clear(State{Error: ErrSessionExpired.Error()}); err != nil {
		log.Error().Err(err).Msg("failed to clear credentials")
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

// Logout ends the server session when possible and always clears local credentials.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	o.mu.Lock()
	creds := o.creds
	o.mu.Unlock()

	if creds != nil {
		if err := o.api.Logout(ctx, creds.AccessToken); err != nil {
			log.Warn().Err(err).Msg("server logout failed")
		}
	}
	return o.clear(State{})
}

// HandleLaunchURL completes a bot handshake carried in the launch URL and
// returns the URL with hash and auth_type removed.
func (o *Orchestrator) HandleLaunchURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, fmt.Errorf("parse launch url: %w", err)
	}

	q := u.Query()
	authHash := q.Get("hash")
	authType := q.Get("auth_type")
	q.Del("hash")
	q.Del("auth_type")
	u.RawQuery = q.Encode()
	cleaned := u.String()

	if authHash == "" || authType != string(model.AuthMethodBot) || o.State().Authenticated {
		return cleaned, nil
	}
	return cleaned, o.CompleteBotAuth(ctx, authHash, nil)
}

// Do sends req with the current access token. A 401 triggers one refresh and
// a retry; if the refresh fails the user is signed out.
func (o *Orchestrator) Do(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	creds := o.creds
	o.mu.Unlock()
	if creds == nil {
		return nil, ErrNotAuthenticated
	}

	resp, err := o.send(req, creds.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		// The body is spent: refresh for the next call and hand back the 401.
		if err := o.refreshIfCurrent(req.Context(), creds.AccessToken); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	}
	resp.Body.Close()

	if err := o.refreshIfCurrent(req.Context(), creds.AccessToken); err != nil {
		return nil, err
	}

	o.mu.Lock()
	creds = o.creds
	o.mu.Unlock()
	if creds == nil {
		return nil, ErrSessionExpired
	}
	return o.send(req, creds.AccessToken)
}

// NewRequest builds a request against the API for use with Do.
func (o *Orchestrator) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return o.api.NewRequest(ctx, method, path, body)
}

func (o *Orchestrator) send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+accessToken)
	return o.api.send(r)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnChange registers fn to be called after every state change.
func (o *Orchestrator) OnChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Close stops the refresh scheduler and waits for a refresh in flight to
// finish. The store is left open.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.cancelTimerLocked()
	o.mu.Unlock()

	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
}

func (o *Orchestrator) schedule(expiresAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.manual || o.creds == nil {
		return
	}

	o.cancelTimerLocked()
	gen := o.timerGen
	delay := refreshDelay(expiresAt, o.now())
	o.timer = o.afterFunc(delay, func() { o.fire(gen) })
	log.Debug().Dur("in", delay).Msg("token refresh scheduled")
}

// fire runs a scheduled refresh. The generation is checked after taking
// refreshMu; a refresh, sign-in or sign-out that got there first re-armed or
// cancelled the timer and bumped it.
func (o *Orchestrator) fire(gen uint64) {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	o.mu.Lock()
	stale := o.closed || o.creds == nil || gen != o.timerGen
	o.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scheduledRefreshTimeout)
	defer cancel()
	if err := o.refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("scheduled refresh failed")
	}
}

func (o *Orchestrator) cancelTimerLocked() {
	o.timerGen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// clear removes every stored credential and resets the state.
func (o *Orchestrator) clear(next State) error {
	err := o.store.Clear()

	o.mu.Lock()
	o.cancelTimerLocked()
	o.mu.Unlock()

	o.setState(nil, next)
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

func (o *Orchestrator) setError(msg string) {
	o.mu.Lock()
	next := o.state
	next.Error = msg
	o.mu.Unlock()
	o.publish(next, func() { o.state = next })
}

func (o *Orchestrator) setState(creds *Credentials, next State) {
	o.publish(next, func() {
		o.creds = creds
		o.state = next
	})
}

func (o *Orchestrator) publish(next State, apply func()) {
	o.mu.Lock()
	apply()
	listeners := append([]func(State){}, o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}
