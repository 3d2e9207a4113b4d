// Package auth turns credentials into an authenticated identity and tracks
// the idle timeout of the logged-in session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/darshan-rambhia/devwatch/internal/model"
	"github.com/darshan-rambhia/devwatch/internal/notify"
	"github.com/darshan-rambhia/devwatch/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrBadCredentials is returned for an unknown username and for a wrong
	// password alike.
	ErrBadCredentials = errors.New("username or password is incorrect")
	// ErrUsernameTaken is returned by Register for an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrNotLoggedIn is returned by operations that need a current user.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrRecoveryMismatch is returned when recovery contact details do not
	// match the account.
	ErrRecoveryMismatch = errors.New("account details do not match")
)

// Store is the persistence surface used by a Session. *store.Store
// satisfies it.
type Store interface {
	VerifyUser(username, password string) (model.Identity, error)
	AddUser(u model.NewUser) (int64, error)
	GetUser(id int64) (model.User, error)
	GetUserIDByUsername(username string) (int64, error)
	UpdateUser(id int64, email, phone, nickname string) error
	UpdatePassword(id int64, newPassword string) error
	AddLog(e model.LogEntry) (int64, error)
}

// Emitter receives session notifications.
type Emitter interface {
	Emit(e notify.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(notify.Event) {}

// State is the idle-timeout state of a session.
type State int

const (
	StateLoggedOut State = iota
	StateActive
	StateWarned
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateActive:
		return "active"
	case StateWarned:
		return "warned"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultTimeout          = 30 * time.Minute
	DefaultWarningThreshold = 5 * time.Minute
	DefaultCheckInterval    = 1 * time.Minute
)

// Audit log types written by the session.
const (
	logTypeLogin    = "login"
	logTypeLogout   = "logout"
	logTypeRegister = "register"
	logTypePassword = "password"
	logTypeProfile  = "profile"
)

// Session holds the authenticated identity of one console user and its idle
// timer. All methods are safe for concurrent use; notifications are emitted
// after internal locks are released.
type Session struct {
	store    Store
	events   Emitter
	now      func() time.Time
	timeout  time.Duration
	warning  time.Duration
	interval time.Duration

	mu           sync.Mutex
	identity     model.Identity
	id           string // per login, correlates audit entries and events
	state        State
	lastActivity time.Time
	failed       int
}

// Option configures a Session.
type Option func(*Session)

// WithNotifier sets the receiver of login, register and session events.
func WithNotifier(e Emitter) Option {
	return func(s *Session) {
		if e != nil {
			s.events = e
		}
	}
}

// WithClock overrides the time source of the idle timer.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTimeout sets the idle timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithWarningThreshold sets how long before the timeout the warning fires.
func WithWarningThreshold(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.warning = d
		}
	}
}

// WithCheckInterval sets the tick interval used by Run.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewSession returns a logged-out session backed by st.
func NewSession(st Store, opts ...Option) *Session {
	s := &Session{
		store:    st,
		events:   nopEmitter{},
		now:      time.Now,
		timeout:  DefaultTimeout,
		warning:  DefaultWarningThreshold,
		interval: DefaultCheckInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login verifies the credentials and makes the user current. Unknown users
// and wrong passwords both fail with ErrBadCredentials and count as a failed
// attempt; store outages are returned as-is and do not. A login that replaces
// a still-active user ends that session first, with its own logout entry.
func (s *Session) Login(username, password string) (model.Identity, error) {
	if username == "" || password == "" {
		err := invalid("username and password are required")
		s.events.Emit(notify.Event{Kind: notify.LoginFailed, Message: err.Error(), Username: username})
		return model.Identity{}, err
	}

	ident, err := s.store.VerifyUser(username, password)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAuthMismatch) {
			s.mu.Lock()
			s.failed++
			attempts := s.failed
			s.mu.Unlock()

			slog.Warn("login failed", "username", username, "attempts", attempts)
			s.events.Emit(notify.Event{Kind: notify.LoginFailed, Message: ErrBadCredentials.Error(), Username: username})
			return model.Identity{}, ErrBadCredentials
		}
		s.events.Emit(notify.Event{Kind: notify.LoginFailed, Message: err.Error(), Username: username})
		return model.Identity{}, fmt.Errorf("logging in %s: %w", username, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	prev, prevID := s.identity, s.id
	replaced := s.state != StateLoggedOut
	s.identity = ident
	s.id = id
	s.state = StateActive
	s.lastActivity = s.now()
	s.failed = 0
	s.mu.Unlock()

	if replaced {
		s.endSession(prev, prevID)
	}
	slog.Info("user logged in", "username", ident.Username, "role", ident.Role, "session", id)
	s.audit(logTypeLogin, ident.UserID, fmt.Sprintf("user %s logged in (session %s)", ident.Username, id))
	s.events.Emit(notify.Event{Kind: notify.LoginSuccess, Username: ident.Username, SessionID: id, IsAdmin: ident.IsAdmin()})
	return ident, nil
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Username string
	Password string
	Email    string
	Phone    string
	Nickname string // defaults to Username
	IsAdmin  bool
}

// Register validates req and creates the account. The first failing check is
// reported; a taken username fails with ErrUsernameTaken.
func (s *Session) Register(req RegisterRequest) (int64, error) {
	id, err := s.register(req)
	if err != nil {
		s.events.Emit(notify.Event{Kind: notify.RegisterFailed, Message: err.Error(), Username: req.Username})
		return 0, err
	}
	s.audit(logTypeRegister, id, fmt.Sprintf("user %s registered", req.Username))
	s.events.Emit(notify.Event{Kind: notify.RegisterSuccess, Username: req.Username, IsAdmin: req.IsAdmin})
	return id, nil
}

func (s *Session) register(req RegisterRequest) (int64, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return 0, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return 0, err
	}
	if err := validateProfile(req.Email, req.Phone, req.Nickname); err != nil {
		return 0, err
	}

	role := model.RoleUser
	if req.IsAdmin {
		role = model.RoleAdmin
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}
	id, err := s.store.AddUser(model.NewUser{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Phone:    req.Phone,
		Nickname: nickname,
		Role:     role,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return 0, fmt.Errorf("%w: %w", ErrUsernameTaken, err)
	}
	if err != nil {
		return 0, fmt.Errorf("registering %s: %w", req.Username, err)
	}
	return id, nil
}

// ChangePassword replaces the password of username after checking the old
// one. Changing the current user's password clears its must-change flag.
func (s *Session) ChangePassword(username, oldPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	ident, err := s.store.VerifyUser(username, oldPassword)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAuthMismatch) {
		return ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("changing password of %s: %w", username, err)
	}
	if err := s.store.UpdatePassword(ident.UserID, newPassword); err != nil {
		return fmt.Errorf("changing password of %s: %w", username, err)
	}

	s.mu.Lock()
	if s.state != StateLoggedOut && s.identity.UserID == ident.UserID {
		s.identity.MustChangePassword = false
		s.touchLocked()
	}
	s.mu.Unlock()

	s.audit(logTypePassword, ident.UserID, fmt.Sprintf("user %s changed password", username))
	return nil
}

// RecoverPassword sets a new password for a user who proves ownership with
// the email and phone on file. Both must be non-empty and match exactly.
func (s *Session) RecoverPassword(username, email, phone, newPassword string) error {
	if username == "" || email == "" || phone == "" {
		return invalid("username, email and phone are required")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	id, err := s.store.GetUserIDByUsername(username)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRecoveryMismatch
	}
	if err != nil {
		return fmt.Errorf("recovering password of %s: %w", username, err)
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		return fmt.Errorf("recovering password of %s: %w", username, err)
	}
	if u.Email != email || u.Phone != phone {
		return ErrRecoveryMismatch
	}
	if err := s.store.UpdatePassword(id, newPassword); err != nil {
		return fmt.Errorf("recovering password of %s: %w", username, err)
	}
	s.audit(logTypePassword, id, fmt.Sprintf("user %s reset password via recovery", username))
	return nil
}

// UpdateProfile validates and stores the contact fields of the current user.
func (s *Session) UpdateProfile(email, phone, nickname string) error {
	ident, ok := s.CurrentUser()
	if !ok {
		return ErrNotLoggedIn
	}
	if err := validateProfile(email, phone, nickname); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ident.UserID, email, phone, nickname); err != nil {
		return fmt.Errorf("updating profile of %s: %w", ident.Username, err)
	}
	s.ResetSessionTimer()
	s.audit(logTypeProfile, ident.UserID, fmt.Sprintf("user %s updated profile", ident.Username))
	return nil
}

// Profile returns the stored account of the current user.
func (s *Session) Profile() (model.User, error) {
	ident, ok := s.CurrentUser()
	if !ok {
		return model.User{}, ErrNotLoggedIn
	}
	u, err := s.store.GetUser(ident.UserID)
	if err != nil {
		return model.User{}, fmt.Errorf("loading profile of %s: %w", ident.Username, err)
	}
	return u, nil
}

// FailedAttempts returns the number of consecutive failed logins. The caller
// owns any lockout policy.
func (s *Session) FailedAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// ResetFailedAttempts zeroes the failed login counter.
func (s *Session) ResetFailedAttempts() {
	s.mu.Lock()
	s.failed = 0
	s.mu.Unlock()
}

// IsLoggedIn reports whether a user is current.
func (s *Session) IsLoggedIn() bool {
	return s.State() != StateLoggedOut
}

// CurrentUser returns the current identity, if any.
func (s *Session) CurrentUser() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLoggedOut {
		return model.Identity{}, false
	}
	return s.identity, true
}

// MustChangePassword reports whether the current user still has to replace
// a bootstrap password.
func (s *Session) MustChangePassword() bool {
	ident, ok := s.CurrentUser()
	return ok && ident.MustChangePassword
}

// ID returns the identifier of the current login, or "" when logged out.
// Every login gets a fresh one.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the idle-timeout state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Logout clears the current user, writing an audit entry if one was logged
// in. Calling it when logged out does nothing.
func (s *Session) Logout() {
	ident, id, ok := s.clear()
	if !ok {
		return
	}
	s.endSession(ident, id)
}

// endSession writes the logout audit entry and event for a finished login.
func (s *Session) endSession(ident model.Identity, id string) {
	slog.Info("user logged out", "username", ident.Username, "session", id)
	s.audit(logTypeLogout, ident.UserID, fmt.Sprintf("user %s logged out (session %s)", ident.Username, id))
	s.events.Emit(notify.Event{Kind: notify.Logout, Username: ident.Username, SessionID: id})
}

// ResetSessionTimer records user activity. It restarts the idle clock and
// moves a warned session back to active.
func (s *Session) ResetSessionTimer() {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
}

func (s *Session) touchLocked() {
	if s.state == StateLoggedOut {
		return
	}
	s.lastActivity = s.now()
	s.state = StateActive
}

// SetSessionTimeout changes the idle timeout and restarts the idle clock of a
// logged-in session. Non-positive values are ignored.
func (s *Session) SetSessionTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.touchLocked()
	s.mu.Unlock()
}

// CheckTimeout compares the idle time against the timeout. Entering the
// warning window emits one session_warning; reaching the timeout logs the
// user out and emits one session_timeout.
func (s *Session) CheckTimeout() {
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		return
	}
	idle := s.now().Sub(s.lastActivity)
	timeout, warnAt := s.timeout, s.timeout-s.warning

	if idle >= timeout {
		ident, id := s.identity, s.id
		s.clearLocked()
		s.mu.Unlock()

		slog.Info("session timed out", "username", ident.Username, "idle", idle, "session", id)
		s.audit(logTypeLogout, ident.UserID, fmt.Sprintf("user %s logged out after %s idle (session %s)", ident.Username, timeout, id))
		s.events.Emit(notify.Event{Kind: notify.SessionTimeout, Username: ident.Username, SessionID: id})
		return
	}
	if idle >= warnAt && s.state == StateActive {
		s.state = StateWarned
		username, id := s.identity.Username, s.id
		s.mu.Unlock()

		remaining := int((timeout - idle) / time.Second)
		s.events.Emit(notify.Event{Kind: notify.SessionWarning, Username: username, SessionID: id, RemainingSeconds: remaining})
		return
	}
	s.mu.Unlock()
}

// Run calls CheckTimeout every check interval until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	slog.Info("session monitor started", "interval", s.interval, "timeout", s.timeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.CheckTimeout()
		}
	}
}

func (s *Session) clear() (model.Identity, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLoggedOut {
		return model.Identity{}, "", false
	}
	ident, id := s.identity, s.id
	s.clearLocked()
	return ident, id, true
}

func (s *Session) clearLocked() {
	s.identity = model.Identity{}
	s.id = ""
	s.state = StateLoggedOut
	s.lastActivity = time.Time{}
}

// audit writes a best-effort log entry. Failures are already recorded by the
// store and do not fail the session operation.
func (s *Session) audit(logType string, userID int64, content string) {
	if _, err := s.store.AddLog(model.LogEntry{
		Type:    logType,
		Level:   model.LevelInfo,
		Content: content,
		UserID:  model.Ref(userID),
	}); err != nil {
		slog.Warn("writing audit log", "type", logType, "error", err)
	}
}
