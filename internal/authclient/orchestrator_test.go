package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navigapp/navigapp-server-go/internal/httputil"
	"github.com/navigapp/navigapp-server-go/internal/model"
)

var testNow = time.Unix(1_700_000_000, 0).UTC()

const testUserJSON = `{"id":"u1","telegram_id":"42","first_name":"Ann","is_premium":false,"subscription_type":"free","created_at":"2023-11-14T22:13:20Z","updated_at":"2023-11-14T22:13:20Z"}`

// fakeAuthAPI serves the auth endpoints with a single live token pair.
type fakeAuthAPI struct {
	mu           sync.Mutex
	generation   int
	access       string
	refresh      string
	refreshFails bool
	refreshCalls int
	logoutTokens []string
	completed    []string
}

func (f *fakeAuthAPI) mint() map[string]any {
	f.generation++
	f.access = fmt.Sprintf("access-%d", f.generation)
	f.refresh = fmt.Sprintf("refresh-%d", f.generation)
	return map[string]any{
		"access_token":       f.access,
		"refresh_token":      f.refresh,
		"expires_at":         testNow.Add(15 * time.Minute),
		"refresh_expires_at": testNow.Add(90 * 24 * time.Hour),
	}
}

func (f *fakeAuthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch r.URL.Path {
	case "/auth/bot/complete":
		raw := map[string]any{}
		if body["auth_hash"] != "good-hash" {
			writeFailure(w, http.StatusUnauthorized, "AUTH_ERROR")
			return
		}
		f.completed = append(f.completed, body["auth_hash"])
		raw["user"] = json.RawMessage(testUserJSON)
		raw["tokens"] = f.mint()
		httputil.WriteSuccess(w, http.StatusOK, raw)
	case "/auth/telegram":
		if body["initData"] != "signed" {
			writeFailure(w, http.StatusUnauthorized, "INVALID_AUTH_DATA")
			return
		}
		tokens := f.mint()
		httputil.WriteSuccess(w, http.StatusOK, map[string]any{
			"user":               json.RawMessage(testUserJSON),
			"token":              tokens["access_token"],
			"refreshToken":       tokens["refresh_token"],
			"expires_at":         tokens["expires_at"],
			"refresh_expires_at": tokens["refresh_expires_at"],
		})
	case "/auth/refresh":
		f.refreshCalls++
		if f.refreshFails || body["refresh_token"] != f.refresh {
			writeFailure(w, http.StatusUnauthorized, "INVALID_TOKEN")
			return
		}
		httputil.WriteSuccess(w, http.StatusOK, f.mint())
	case "/auth/logout":
		f.logoutTokens = append(f.logoutTokens, bearer)
		httputil.WriteSuccess(w, http.StatusOK, nil)
	case "/auth/me":
		if bearer != f.access {
			writeFailure(w, http.StatusUnauthorized, "INVALID_TOKEN")
			return
		}
		httputil.WriteSuccess(w, http.StatusOK, map[string]any{"user": json.RawMessage(testUserJSON)})
	case "/plans":
		if bearer != f.access {
			writeFailure(w, http.StatusUnauthorized, "INVALID_TOKEN")
			return
		}
		httputil.WriteSuccess(w, http.StatusOK, map[string]string{"token": bearer})
	default:
		http.NotFound(w, r)
	}
}

// expireAccess invalidates the current access token server side.
func (f *fakeAuthAPI) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = "revoked"
}

func (f *fakeAuthAPI) setRefreshFails(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshFails = v
}

func (f *fakeAuthAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func writeFailure(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"message":"nope","code":%q}}`, code)
}

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type scheduled struct {
	delay time.Duration
	fn    func()
	timer *fakeTimer
}

type fakeScheduler struct {
	mu    sync.Mutex
	armed []scheduled
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.armed = append(s.armed, scheduled{delay: d, fn: f, timer: t})
	return t
}

func (s *fakeScheduler) last() scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[len(s.armed)-1]
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

type orchestratorFixture struct {
	api   *fakeAuthAPI
	store *BoltStore
	sched *fakeScheduler
	orch  *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	api := &fakeAuthAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := &orchestratorFixture{
		api:   api,
		store: openTestStore(t),
		sched: &fakeScheduler{},
	}
	f.orch = New(NewAPIClient(srv.URL, srv.Client()), f.store, "@navigapp_bot",
		WithClock(func() time.Time { return testNow }),
		withTimer(f.sched.afterFunc),
	)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *orchestratorFixture) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.CompleteBotAuth(context.Background(), "good-hash", nil))
}

func TestRefreshDelay(t *testing.T) {
	cases := []struct {
		name  string
		until time.Duration
		want  time.Duration
	}{
		{"fresh access token", 15 * time.Minute, 10 * time.Minute},
		{"just outside lead time", 5*time.Minute + time.Second, time.Second},
		{"at lead time", 5 * time.Minute, 0},
		{"inside lead time", 4 * time.Minute, 0},
		{"already expired", -time.Minute, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, refreshDelay(testNow.Add(tc.until), testNow))
		})
	}
}

func TestInitiateBotAuth(t *testing.T) {
	f := newOrchestratorFixture(t)
	assert.Equal(t, "https://t.me/navigapp_bot?start=webapp", f.orch.InitiateBotAuth())
}

func TestCompleteBotAuth(t *testing.T) {
	t.Run("stores the pair and schedules a refresh", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)

		state := f.orch.State()
		assert.True(t, state.Authenticated)
		assert.Equal(t, model.AuthMethodBot, state.AuthMethod)
		require.NotNil(t, state.User)
		assert.Equal(t, int64(42), state.User.TelegramID)
		assert.Empty(t, state.Error)

		creds, err := f.store.Load()
		require.NoError(t, err)
		require.NotNil(t, creds)
		assert.Equal(t, "access-1", creds.AccessToken)
		assert.Equal(t, model.AuthMethodBot, creds.AuthMethod)

		assert.Equal(t, 10*time.Minute, f.sched.last().delay)
	})

	t.Run("rejected hash leaves the user signed out", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		err := f.orch.CompleteBotAuth(context.Background(), "used-hash", nil)
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "AUTH_ERROR", string(apiErr.Code))

		state := f.orch.State()
		assert.False(t, state.Authenticated)
		assert.Equal(t, "bot authentication failed", state.Error)
		assert.Zero(t, f.sched.count())
	})
}

func TestAuthenticateWebApp(t *testing.T) {
	t.Run("signs in with init data", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		require.NoError(t, f.orch.AuthenticateWebApp(context.Background(), "signed"))

		state := f.orch.State()
		assert.True(t, state.Authenticated)
		assert.Equal(t, model.AuthMethodWebApp, state.AuthMethod)
		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, model.AuthMethodWebApp, creds.AuthMethod)
	})

	t.Run("failure clears stored credentials", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)

		require.Error(t, f.orch.AuthenticateWebApp(context.Background(), "tampered"))
		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Nil(t, creds)
		assert.False(t, f.orch.State().Authenticated)
		assert.Empty(t, storedKeys(t, f.store))
	})
}

func TestRestore(t *testing.T) {
	t.Run("restores a stored session and schedules refresh", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		creds := sampleCredentials()
		creds.User = json.RawMessage(testUserJSON)
		creds.ExpiresAt = testNow.Add(2 * time.Minute)
		require.NoError(t, f.store.Save(creds))

		require.NoError(t, f.orch.Restore())
		state := f.orch.State()
		assert.True(t, state.Authenticated)
		assert.Equal(t, "u1", state.User.ID)
		assert.Equal(t, time.Duration(0), f.sched.last().delay)
	})

	t.Run("expired refresh token clears the store", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		creds := sampleCredentials()
		creds.RefreshExpiresAt = testNow.Add(-time.Second)
		require.NoError(t, f.store.Save(creds))

		require.NoError(t, f.orch.Restore())
		assert.False(t, f.orch.State().Authenticated)
		assert.Empty(t, storedKeys(t, f.store))
	})

	t.Run("nothing stored", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		require.NoError(t, f.orch.Restore())
		assert.False(t, f.orch.State().Authenticated)
		assert.Zero(t, f.sched.count())
	})

	t.Run("without scheduler nothing is armed", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		creds := sampleCredentials()
		creds.User = json.RawMessage(testUserJSON)
		require.NoError(t, f.store.Save(creds))

		orch := New(f.orch.api, f.store, "navigapp_bot",
			WithClock(func() time.Time { return testNow }),
			withTimer(f.sched.afterFunc),
			WithoutScheduler(),
		)
		defer orch.Close()

		require.NoError(t, orch.Restore())
		assert.True(t, orch.State().Authenticated)
		assert.Zero(t, f.sched.count())
	})
}

// waitBlocked asserts that done stays open while the test holds refreshMu.
func waitBlocked(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("returned while a refresh was in flight")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduledRefresh(t *testing.T) {
	t.Run("timer rotates the pair and re-arms", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		first := f.sched.last()

		first.fn()

		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, "access-2", creds.AccessToken)
		assert.Equal(t, "refresh-2", creds.RefreshToken)
		assert.Equal(t, 1, f.api.calls())
		assert.Equal(t, 2, f.sched.count())
		assert.True(t, f.orch.State().Authenticated)
	})

	t.Run("refresh failure clears everything", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		f.api.setRefreshFails(true)

		err := f.orch.RefreshToken(context.Background())
		require.ErrorIs(t, err, ErrSessionExpired)

		assert.Empty(t, storedKeys(t, f.store))
		state := f.orch.State()
		assert.False(t, state.Authenticated)
		assert.Nil(t, state.User)
		assert.Equal(t, "session expired", state.Error)
		assert.True(t, f.sched.last().timer.stopped)
	})

	t.Run("timer that fires after logout does nothing", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		pending := f.sched.last()
		require.NoError(t, f.orch.Logout(context.Background()))

		pending.fn()
		assert.Zero(t, f.api.calls())
		assert.Empty(t, f.orch.State().Error)
	})

	t.Run("timer that was overtaken by an explicit refresh does nothing", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		pending := f.sched.last()

		f.orch.refreshMu.Lock()
		done := make(chan struct{})
		go func() {
			defer close(done)
			pending.fn()
		}()
		require.NoError(t, f.orch.refresh(context.Background()))
		f.orch.refreshMu.Unlock()
		<-done

		assert.Equal(t, 1, f.api.calls())
		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, "refresh-2", creds.RefreshToken)
		assert.True(t, f.orch.State().Authenticated)
	})

	t.Run("close waits for a refresh in flight", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)

		f.orch.refreshMu.Lock()
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.orch.Close()
		}()
		waitBlocked(t, done)
		f.orch.refreshMu.Unlock()
		<-done
	})

	t.Run("close cancels the timer", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		pending := f.sched.last()

		f.orch.Close()
		assert.True(t, pending.timer.stopped)
		pending.fn()
		assert.Zero(t, f.api.calls())
	})
}

func TestDo(t *testing.T) {
	get := func(t *testing.T, f *orchestratorFixture) (*http.Response, error) {
		req, err := f.orch.NewRequest(context.Background(), http.MethodGet, "/plans", nil)
		require.NoError(t, err)
		return f.orch.Do(req)
	}

	t.Run("adds the bearer token", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)

		resp, err := get(t, f)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Zero(t, f.api.calls())
	})

	t.Run("401 refreshes once and retries", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		f.api.expireAccess()

		resp, err := get(t, f)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, f.api.calls())

		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, "access-2", creds.AccessToken)
	})

	t.Run("stale pair after another client's refresh signs out", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		// another tab rotated the session
		f.api.mu.Lock()
		f.api.mint()
		f.api.mu.Unlock()

		_, err := get(t, f)
		require.ErrorIs(t, err, ErrSessionExpired)
		assert.Empty(t, storedKeys(t, f.store))
		assert.Equal(t, "session expired", f.orch.State().Error)
	})

	t.Run("signed out", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		_, err := get(t, f)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	post := func(t *testing.T, f *orchestratorFixture) (*http.Response, error) {
		// MultiReader hides the concrete type, so the request has no GetBody.
		body := io.MultiReader(strings.NewReader(`{"name":"plan"}`))
		req, err := f.orch.NewRequest(context.Background(), http.MethodPost, "/plans", body)
		require.NoError(t, err)
		require.Nil(t, req.GetBody)
		return f.orch.Do(req)
	}

	t.Run("401 on a one-shot body still refreshes", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		f.api.expireAccess()

		resp, err := post(t, f)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 1, f.api.calls())

		creds, err := f.store.Load()
		require.NoError(t, err)
		assert.Equal(t, "access-2", creds.AccessToken)
	})

	t.Run("401 on a one-shot body with a dead session signs out", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		f.api.expireAccess()
		f.api.setRefreshFails(true)

		_, err := post(t, f)
		require.ErrorIs(t, err, ErrSessionExpired)
		assert.Empty(t, storedKeys(t, f.store))
		assert.False(t, f.orch.State().Authenticated)
	})
}

func TestSignInWaitsForRefresh(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.signIn(t)

	f.orch.refreshMu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.orch.AuthenticateWebApp(context.Background(), "signed"))
	}()
	waitBlocked(t, done)
	require.NoError(t, f.orch.refresh(context.Background()))
	f.orch.refreshMu.Unlock()
	<-done

	creds, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-3", creds.AccessToken)
	assert.Equal(t, model.AuthMethodWebApp, creds.AuthMethod)
}

func TestLogout(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.signIn(t)
	pending := f.sched.last()

	require.NoError(t, f.orch.Logout(context.Background()))

	assert.Equal(t, []string{"access-1"}, f.api.logoutTokens)
	assert.Empty(t, storedKeys(t, f.store))
	assert.Equal(t, State{}, f.orch.State())
	assert.True(t, pending.timer.stopped)
}

func TestHandleLaunchURL(t *testing.T) {
	t.Run("completes and strips the handshake parameters", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		cleaned, err := f.orch.HandleLaunchURL(context.Background(),
			"https://app.navigapp.test/auth/bot?hash=good-hash&auth_type=bot&return_path=%2Fplans")
		require.NoError(t, err)

		assert.Equal(t, "https://app.navigapp.test/auth/bot?return_path=%2Fplans", cleaned)
		assert.True(t, f.orch.State().Authenticated)
		assert.Equal(t, []string{"good-hash"}, f.api.completed)
	})

	t.Run("other auth types are stripped but not completed", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		cleaned, err := f.orch.HandleLaunchURL(context.Background(),
			"https://app.navigapp.test/auth/bot?hash=good-hash&auth_type=webapp")
		require.NoError(t, err)

		assert.Equal(t, "https://app.navigapp.test/auth/bot", cleaned)
		assert.False(t, f.orch.State().Authenticated)
		assert.Empty(t, f.api.completed)
	})

	t.Run("already signed in", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.signIn(t)
		_, err := f.orch.HandleLaunchURL(context.Background(),
			"https://app.navigapp.test/auth/bot?hash=good-hash&auth_type=bot")
		require.NoError(t, err)
		assert.Len(t, f.api.completed, 1)
	})

	t.Run("failed completion still returns the cleaned url", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		cleaned, err := f.orch.HandleLaunchURL(context.Background(),
			"https://app.navigapp.test/auth/bot?hash=expired&auth_type=bot")
		require.Error(t, err)
		assert.Equal(t, "https://app.navigapp.test/auth/bot", cleaned)
	})
}

func TestOnChange(t *testing.T) {
	f := newOrchestratorFixture(t)
	var seen []State
	f.orch.OnChange(func(s State) { seen = append(seen, s) })

	f.signIn(t)
	require.NoError(t, f.orch.Logout(context.Background()))

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Authenticated)
	assert.False(t, seen[1].Authenticated)
}

func TestAPIClientMe(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.signIn(t)

	user, err := f.orch.api.Me(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = f.orch.api.Me(context.Background(), "forged")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_TOKEN", string(apiErr.Code))
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("non json body", func(t *testing.T) {
		_, err := decodeEnvelope("/auth/refresh", http.StatusBadGateway, []byte("<html>"))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	})

	t.Run("failure without code", func(t *testing.T) {
		_, err := decodeEnvelope("/auth/refresh", http.StatusInternalServerError, []byte(`{"success":false}`))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "INTERNAL_ERROR", string(apiErr.Code))
	})
}
