package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/devwatch/internal/model"
	"github.com/darshan-rambhia/devwatch/internal/notify"
	"github.com/darshan-rambhia/devwatch/internal/passhash"
	"github.com/darshan-rambhia/devwatch/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*store.Store)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(k notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func (r *recorder) last(k notify.Kind) (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == k {
			return r.events[i], true
		}
	}
	return notify.Event{}, false
}

type harness struct {
	session *Session
	store   *store.Store
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), events: &recorder{}}
	h.store = store.New(filepath.Join(t.TempDir(), "test.db"),
		store.WithHasher(passhash.New("test", passhash.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32})),
		store.WithClock(h.clock.Now),
	)
	require.NoError(t, h.store.Open())
	t.Cleanup(func() { h.store.Close() })

	opts = append([]Option{WithClock(h.clock.Now), WithNotifier(h.events)}, opts...)
	h.session = NewSession(h.store, opts...)
	return h
}

func (h *harness) register(t *testing.T, username, password string) int64 {
	t.Helper()
	id, err := h.session.Register(RegisterRequest{Username: username, Password: password})
	require.NoError(t, err)
	return id
}

func (h *harness) login(t *testing.T, username, password string) model.Identity {
	t.Helper()
	ident, err := h.session.Login(username, password)
	require.NoError(t, err)
	return ident
}

// stubStore implements Store with canned results; unset methods panic.
type stubStore struct {
	Store
	verifyErr   error
	verifyCalls int
	addUserErr  error
}

func (s *stubStore) VerifyUser(string, string) (model.Identity, error) {
	s.verifyCalls++
	return model.Identity{}, s.verifyErr
}

func (s *stubStore) AddUser(model.NewUser) (int64, error) {
	return 0, s.addUserErr
}

func TestRegisterAndLoginScenario(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	assert.Equal(t, 1, h.events.count(notify.RegisterSuccess))

	_, err := h.session.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	assert.Equal(t, 1, h.session.FailedAttempts())
	assert.False(t, h.session.IsLoggedIn())

	ident := h.login(t, "alice", "Passw0rd!")
	assert.Equal(t, 0, h.session.FailedAttempts())
	assert.Equal(t, model.RoleUser, ident.Role)
	assert.True(t, h.session.IsLoggedIn())
	assert.Equal(t, StateActive, h.session.State())

	ev, ok := h.events.last(notify.LoginSuccess)
	require.True(t, ok)
	assert.False(t, ev.IsAdmin)
	assert.Equal(t, "alice", ev.Username)
}

func TestLogin_UnknownAndWrongPasswordLookAlike(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")

	_, errUnknown := h.session.Login("bob", "Passw0rd!")
	_, errWrong := h.session.Login("alice", "nope")
	assert.Equal(t, errUnknown, errWrong)
	assert.Equal(t, ErrBadCredentials.Error(), errUnknown.Error())
	assert.Equal(t, 2, h.session.FailedAttempts())
	assert.Equal(t, 2, h.events.count(notify.LoginFailed))

	h.session.ResetFailedAttempts()
	assert.Zero(t, h.session.FailedAttempts())
}

func TestLogin_EmptyFieldsSkipStore(t *testing.T) {
	st := &stubStore{}
	rec := &recorder{}
	s := NewSession(st, WithNotifier(rec))

	for _, creds := range [][2]string{{"", "x"}, {"alice", ""}, {"", ""}} {
		_, err := s.Login(creds[0], creds[1])
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, st.verifyCalls)
	assert.Zero(t, s.FailedAttempts())
	assert.Equal(t, 3, rec.count(notify.LoginFailed))
}

func TestLogin_StoreOutageNotCounted(t *testing.T) {
	st := &stubStore{verifyErr: fmt.Errorf("verifying user: %w", store.ErrNotConnected)}
	s := NewSession(st)

	_, err := s.Login("alice", "Passw0rd!")
	assert.ErrorIs(t, err, store.ErrConnection)
	assert.NotErrorIs(t, err, ErrBadCredentials)
	assert.Zero(t, s.FailedAttempts())
}

func TestLogin_AdminAndAuditLog(t *testing.T) {
	h := newHarness(t)
	id, err := h.session.Register(RegisterRequest{Username: "root_admin", Password: "Adm1n!pass", IsAdmin: true})
	require.NoError(t, err)

	ident := h.login(t, "root_admin", "Adm1n!pass")
	assert.True(t, ident.IsAdmin())
	ev, ok := h.events.last(notify.LoginSuccess)
	require.True(t, ok)
	assert.True(t, ev.IsAdmin)

	logs, err := h.store.QueryLogs(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, logTypeLogin, logs[0].Type)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, id, *logs[0].UserID)
	assert.Equal(t, logTypeRegister, logs[1].Type)
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")

	_, err := h.session.Register(RegisterRequest{Username: "alice", Password: "Other1!x"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, store.ErrConstraint)
	ev, ok := h.events.last(notify.RegisterFailed)
	require.True(t, ok)
	assert.Contains(t, ev.Message, ErrUsernameTaken.Error())
}

func TestRegister_FirstFailingCheckReported(t *testing.T) {
	st := &stubStore{}
	s := NewSession(st)

	tests := []struct {
		name string
		req  RegisterRequest
		want string
	}{
		{"username before password", RegisterRequest{Username: "a", Password: "weak"}, "username"},
		{"password", RegisterRequest{Username: "alice", Password: "weak"}, "password"},
		{"email", RegisterRequest{Username: "alice", Password: "Passw0rd!", Email: "x"}, "email"},
		{"phone", RegisterRequest{Username: "alice", Password: "Passw0rd!", Phone: "123"}, "phone"},
		{"nickname", RegisterRequest{Username: "alice", Password: "Passw0rd!", Nickname: "x"}, "nickname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(tt.req)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegister_StoreError(t *testing.T) {
	boom := errors.New("disk full")
	s := NewSession(&stubStore{addUserErr: boom})
	_, err := s.Register(RegisterRequest{Username: "alice", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUsernameTaken)
}

func TestRegister_NicknameDefaultsToUsername(t *testing.T) {
	h := newHarness(t)
	id := h.register(t, "alice", "Passw0rd!")

	u, err := h.store.GetUser(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Nickname)
}

func TestSessionTimeout_WarningThenTimeout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.clock.Advance(DefaultTimeout - DefaultWarningThreshold - time.Second)
	h.session.CheckTimeout()
	assert.Zero(t, h.events.count(notify.SessionWarning))

	h.clock.Advance(time.Second)
	h.session.CheckTimeout()
	h.session.CheckTimeout()
	assert.Equal(t, 1, h.events.count(notify.SessionWarning))
	assert.Equal(t, StateWarned, h.session.State())
	ev, ok := h.events.last(notify.SessionWarning)
	require.True(t, ok)
	assert.Equal(t, 300, ev.RemainingSeconds)

	h.clock.Advance(DefaultWarningThreshold)
	h.session.CheckTimeout()
	h.session.CheckTimeout()
	assert.Equal(t, 1, h.events.count(notify.SessionTimeout))
	assert.Equal(t, StateLoggedOut, h.session.State())
	assert.False(t, h.session.IsLoggedIn())
	_, ok = h.session.CurrentUser()
	assert.False(t, ok)
}

func TestSessionTimeout_ResetSuppresses(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	for range 3 {
		h.clock.Advance(DefaultTimeout - DefaultWarningThreshold - time.Minute)
		h.session.CheckTimeout()
		h.session.ResetSessionTimer()
	}
	assert.Zero(t, h.events.count(notify.SessionWarning))
	assert.Zero(t, h.events.count(notify.SessionTimeout))
	assert.Equal(t, StateActive, h.session.State())
}

func TestSessionTimeout_ResetClearsWarning(t *testing.T) {
	h := newHarness(t, WithTimeout(10*time.Minute), WithWarningThreshold(2*time.Minute))
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.clock.Advance(8 * time.Minute)
	h.session.CheckTimeout()
	require.Equal(t, StateWarned, h.session.State())

	h.session.ResetSessionTimer()
	assert.Equal(t, StateActive, h.session.State())

	h.clock.Advance(8 * time.Minute)
	h.session.CheckTimeout()
	assert.Equal(t, 2, h.events.count(notify.SessionWarning))
	assert.Zero(t, h.events.count(notify.SessionTimeout))
}

func TestSessionTimeout_JumpPastTimeout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.clock.Advance(2 * DefaultTimeout)
	h.session.CheckTimeout()
	assert.Zero(t, h.events.count(notify.SessionWarning))
	assert.Equal(t, 1, h.events.count(notify.SessionTimeout))

	logs, err := h.store.QueryLogs(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, logTypeLogout, logs[0].Type)
}

func TestSetSessionTimeout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.session.SetSessionTimeout(0)
	h.session.SetSessionTimeout(2 * time.Hour)
	h.clock.Advance(DefaultTimeout)
	h.session.CheckTimeout()
	assert.True(t, h.session.IsLoggedIn())
	assert.Zero(t, h.events.count(notify.SessionWarning))
}

func TestSetSessionTimeout_RestartsIdleClock(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.clock.Advance(20 * time.Minute)
	h.session.SetSessionTimeout(10 * time.Minute)
	h.session.CheckTimeout()
	assert.True(t, h.session.IsLoggedIn())
	assert.Equal(t, StateActive, h.session.State())

	h.clock.Advance(10 * time.Minute)
	h.session.CheckTimeout()
	assert.False(t, h.session.IsLoggedIn())
	assert.Equal(t, 1, h.events.count(notify.SessionTimeout))
}

func TestLogin_ReplacesActiveSession(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.register(t, "bob", "Passw0rd!")

	h.login(t, "alice", "Passw0rd!")
	aliceSession := h.session.ID()
	h.login(t, "bob", "Passw0rd!")

	ident, ok := h.session.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "bob", ident.Username)
	assert.NotEqual(t, aliceSession, h.session.ID())

	require.Equal(t, 1, h.events.count(notify.Logout))
	ev, _ := h.events.last(notify.Logout)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, aliceSession, ev.SessionID)

	logs, err := h.store.QueryLogs(time.Time{}, time.Time{})
	require.NoError(t, err)
	var logouts []string
	for _, l := range logs {
		if l.Type == logTypeLogout {
			logouts = append(logouts, l.Content)
		}
	}
	require.Len(t, logouts, 1)
	assert.Contains(t, logouts[0], "alice")
	assert.Contains(t, logouts[0], aliceSession)
}

func TestCheckTimeout_LoggedOutNoop(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(24 * time.Hour)
	h.session.CheckTimeout()
	h.session.ResetSessionTimer()
	assert.Equal(t, StateLoggedOut, h.session.State())
	assert.Zero(t, h.events.count(notify.SessionTimeout))
}

func TestLogout_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.session.Logout()
	h.session.Logout()
	assert.False(t, h.session.IsLoggedIn())
	assert.Equal(t, 1, h.events.count(notify.Logout))

	logs, err := h.store.QueryLogs(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, logTypeLogout, logs[0].Type)
	assert.Contains(t, logs[0].Content, "alice")
}

func TestSessionID_PerLogin(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")
	assert.Empty(t, h.session.ID())

	h.login(t, "alice", "Passw0rd!")
	first := h.session.ID()
	require.NotEmpty(t, first)
	_, err := uuid.Parse(first)
	require.NoError(t, err)

	ev, ok := h.events.last(notify.LoginSuccess)
	require.True(t, ok)
	assert.Equal(t, first, ev.SessionID)

	h.session.Logout()
	assert.Empty(t, h.session.ID())
	ev, ok = h.events.last(notify.Logout)
	require.True(t, ok)
	assert.Equal(t, first, ev.SessionID)

	logs, err := h.store.QueryLogs(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Contains(t, logs[0].Content, first)
	assert.Contains(t, logs[1].Content, first)

	h.login(t, "alice", "Passw0rd!")
	assert.NotEqual(t, first, h.session.ID())
}

func TestRun_TimesOutSession(t *testing.T) {
	h := newHarness(t, WithCheckInterval(5*time.Millisecond))
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")
	h.clock.Advance(DefaultTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()

	assert.Eventually(t, func() bool { return !h.session.IsLoggedIn() }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	created, err := EnsureDefaultAdmin(h.store, DefaultBootstrapAdmin())
	require.NoError(t, err)
	require.True(t, created)

	h.login(t, "admin", "admin123")
	assert.True(t, h.session.MustChangePassword())

	assert.ErrorIs(t, h.session.ChangePassword("admin", "admin123", "weak"), ErrValidation)
	assert.ErrorIs(t, h.session.ChangePassword("admin", "wrong", "N3w-Secret!"), ErrBadCredentials)
	require.NoError(t, h.session.ChangePassword("admin", "admin123", "N3w-Secret!"))
	assert.False(t, h.session.MustChangePassword())

	h.session.Logout()
	_, err = h.session.Login("admin", "admin123")
	assert.ErrorIs(t, err, ErrBadCredentials)
	ident := h.login(t, "admin", "N3w-Secret!")
	assert.False(t, ident.MustChangePassword)
}

func TestRecoverPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.Register(RegisterRequest{
		Username: "alice", Password: "Passw0rd!", Email: "alice@example.com", Phone: "13800138000",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, h.session.RecoverPassword("alice", "", "13800138000", "N3w-Secret!"), ErrValidation)
	assert.ErrorIs(t, h.session.RecoverPassword("alice", "alice@example.com", "13900139000", "N3w-Secret!"), ErrRecoveryMismatch)
	assert.ErrorIs(t, h.session.RecoverPassword("bob", "alice@example.com", "13800138000", "N3w-Secret!"), ErrRecoveryMismatch)
	assert.ErrorIs(t, h.session.RecoverPassword("alice", "alice@example.com", "13800138000", "weak"), ErrValidation)

	require.NoError(t, h.session.RecoverPassword("alice", "alice@example.com", "13800138000", "N3w-Secret!"))
	h.login(t, "alice", "N3w-Secret!")
}

func TestUpdateProfileAndProfile(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice", "Passw0rd!")

	assert.ErrorIs(t, h.session.UpdateProfile("", "", ""), ErrNotLoggedIn)
	_, err := h.session.Profile()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	h.login(t, "alice", "Passw0rd!")
	assert.ErrorIs(t, h.session.UpdateProfile("not-an-email", "", ""), ErrValidation)
	require.NoError(t, h.session.UpdateProfile("alice@example.com", "13800138000", "Ally"))

	u, err := h.session.Profile()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "13800138000", u.Phone)
	assert.Equal(t, "Ally", u.Nickname)
}

func TestUpdateProfile_CountsAsActivity(t *testing.T) {
	h := newHarness(t, WithTimeout(10*time.Minute), WithWarningThreshold(2*time.Minute))
	h.register(t, "alice", "Passw0rd!")
	h.login(t, "alice", "Passw0rd!")

	h.clock.Advance(9 * time.Minute)
	require.NoError(t, h.session.UpdateProfile("", "", "Ally"))
	h.clock.Advance(7 * time.Minute)
	h.session.CheckTimeout()
	assert.True(t, h.session.IsLoggedIn())
	assert.Zero(t, h.events.count(notify.SessionWarning))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "warned", StateWarned.String())
	assert.Equal(t, "State(9)", State(9).String())
}
