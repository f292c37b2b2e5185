// Package session owns the authenticated-user identity. The Store is the
// sole mutator of the session: it orchestrates login, logout and bootstrap
// hydration, and notifies subscribers of state transitions. Exactly one
// Store exists per running application; that single-instance constraint is
// an invariant of the composition root, not a package-level global.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/openhms/hms-client/api"
	"github.com/openhms/hms-client/credentials"
	"github.com/openhms/hms-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	loginPath   = "/login/"
	profilePath = "/auth/me"

	defaultLoginPage = "/login"

	genericLoginDetail = "unable to sign in"
)

// State is the session lifecycle state.
type State int

const (
	StateBootstrapping State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// LoginError carries the user-visible reason a credential exchange was
// rejected, extracted from the server payload when available.
type LoginError struct {
	Detail string
}

func (e *LoginError) Error() string {
	return e.Detail
}

// Store orchestrates the session lifecycle over the HTTP pipeline and the
// credential store.
type Store struct {
	api       *api.Client
	creds     credentials.Store
	log       zerolog.Logger
	nowTime   func() time.Time
	navigate  func(path string) // hard navigation boundary invoked on logout
	loginPage string

	mu            sync.RWMutex
	state         State
	user          *User
	loginInFlight bool
	subscribers   []func(State)
}

// Option defines a function type to modify the Store instance.
type Option func(*Store)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithNavigate sets the navigation side effect performed on logout. The
// default is a no-op; UI hosts pass their hard-redirect here.
func WithNavigate(navigate func(path string)) Option {
	return func(s *Store) {
		s.navigate = navigate
	}
}

// WithLoginPage sets the path passed to the navigation side effect.
func WithLoginPage(path string) Option {
	return func(s *Store) {
		s.loginPage = path
	}
}

// New initializes a Store in the Bootstrapping state and wires the
// pipeline's session-expired signal to a forced logout.
func New(apiClient *api.Client, creds credentials.Store, options ...Option) (*Store, error) {
	if apiClient == nil {
		return nil, errors.New("[session.New] api client is required")
	}
	if creds == nil {
		return nil, errors.New("[session.New] credential store is required")
	}

	s := &Store{
		api:       apiClient,
		creds:     creds,
		log:       zerolog.Nop(),
		nowTime:   time.Now,
		navigate:  func(string) {},
		loginPage: defaultLoginPage,
		state:     StateBootstrapping,
	}
	for _, opt := range options {
		opt(s)
	}

	apiClient.OnSessionExpired(s.sessionExpired)
	return s, nil
}

// Bootstrap hydrates the session from persisted credentials at application
// start. A missing, undecodable or expired stored token ends the session
// immediately; bootstrap never attempts a refresh - the pipeline refreshes
// lazily, on the first 401.
func (s *Store) Bootstrap(ctx context.Context) error {
	pair, err := s.creds.Load()
	if err != nil {
		s.transition(StateAnonymous, nil)
		return errors.Wrap(err, "[Store.Bootstrap] load credentials")
	}
	if pair == nil || pair.Access == "" {
		s.transition(StateAnonymous, nil)
		return nil
	}

	claims, err := token.Decode(pair.Access)
	if err != nil {
		s.log.Warn().Msg("stored access token is malformed, clearing session")
		s.clearCredentials()
		s.transition(StateAnonymous, nil)
		return nil
	}
	if claims.Expired(s.nowTime()) {
		s.log.Debug().Time("expired_at", claims.ExpiresAt()).Msg("stored access token expired, clearing session")
		s.clearCredentials()
		s.transition(StateAnonymous, nil)
		return nil
	}

	profile, err := s.fetchProfile(ctx)
	if err != nil {
		s.clearCredentials()
		s.transition(StateAnonymous, nil)
		return errors.Wrap(err, "[Store.Bootstrap] profile fetch")
	}

	s.transition(StateAuthenticated, mergeUser(claims, profile))
	return nil
}

// Login exchanges the username and password for a credential pair and
// hydrates the user. Rejected credentials return a *LoginError suitable for
// inline display; the session stays anonymous and no partial credential is
// persisted on any failure path.
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.setLoginInFlight(true)
	defer s.setLoginInFlight(false)

	var pair credentials.Pair
	err := s.api.Post(ctx, loginPath, map[string]string{
		"username": username,
		"password": password,
	}, &pair)
	if err != nil {
		s.log.Debug().Err(err).Str("username", username).Msg("login rejected")
		return &LoginError{Detail: loginDetail(err)}
	}
	if pair.Access == "" || pair.Refresh == "" {
		return &LoginError{Detail: genericLoginDetail}
	}

	claims, err := token.Decode(pair.Access)
	if err != nil {
		return &LoginError{Detail: genericLoginDetail}
	}

	if err := s.creds.Save(pair); err != nil {
		return errors.Wrap(err, "[Store.Login] persist credentials")
	}

	profile, err := s.fetchProfile(ctx)
	if err != nil {
		s.clearCredentials()
		s.transition(StateAnonymous, nil)
		return errors.Wrap(err, "[Store.Login] profile fetch")
	}

	s.transition(StateAuthenticated, mergeUser(claims, profile))
	s.log.Info().Str("username", username).Msg("logged in")
	return nil
}

// Logout clears the credential pair, resets the user, and performs the hard
// navigation to the login entry point so no in-memory state from the
// previous session survives into the next one.
func (s *Store) Logout() {
	s.clearCredentials()
	s.transition(StateAnonymous, nil)
	s.navigate(s.loginPage)
}

// sessionExpired handles the pipeline's unrecoverable-refresh signal. The
// pipeline has already cleared the credentials; clearing again is harmless.
func (s *Store) sessionExpired() {
	s.log.Info().Msg("session expired, forcing logout")
	s.Logout()
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentUser returns a copy of the authenticated user, or nil.
func (s *Store) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

// IsAuthenticated is derived strictly from the presence of a user; it is
// never stored independently.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// Loading reports whether the initial bootstrap or a login call is in
// flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateBootstrapping || s.loginInFlight
}

// HasRole reports whether the user holds exactly the given role. Roles are
// canonicalized to upper case when the user is constructed, so comparison is
// a case-sensitive exact match against that canonical form.
func (s *Store) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.Role == role
}

// HasAnyRole reports whether the user holds any of the given roles.
func (s *Store) HasAnyRole(roles ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return false
	}
	return slices.Contains(roles, s.user.Role)
}

// HasGroup reports whether the user belongs to the named group.
func (s *Store) HasGroup(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && slices.Contains(s.user.Groups, name)
}

// Subscribe registers a callback invoked after every state transition.
// Subscribers are called outside the store lock, in registration order.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) fetchProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := s.api.Get(ctx, profilePath, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) transition(state State, user *User) {
	s.mu.Lock()
	s.state = state
	s.user = user
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(state)
	}
}

func (s *Store) clearCredentials() {
	if err := s.creds.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear credentials")
	}
}

func (s *Store) setLoginInFlight(inFlight bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginInFlight = inFlight
}

func loginDetail(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return genericLoginDetail
}
