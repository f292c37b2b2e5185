// Package mockapi is an in-memory stand-in for the hospital backend. It
// implements the three endpoints the client core consumes - POST /login/,
// POST /refresh/ and GET /auth/me - with HS256-signed access tokens, opaque
// single-use refresh tokens and a small bcrypt-hashed account set. It exists
// for local development and integration-style tests; it is not a real
// authorization server.
package mockapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/openhms/hms-client/token"
	"github.com/rs/zerolog"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	refreshTokenBytes = 32
)

type refreshRecord struct {
	Username string
	IssuedAt time.Time
}

// Server serves the mock HMS auth endpoints.
type Server struct {
	mux       *http.ServeMux
	routes    []string
	secret    []byte
	accessTTL time.Duration
	nowTime   func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	accounts map[string]*Account
	refresh  map[string]*refreshRecord
	nextID   int64
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithSecret sets the HS256 signing secret.
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithAccessTTL sets the lifetime of minted access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a mock server with no accounts; seed them with AddAccount.
func New(options ...Option) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		secret:    []byte("mock-api-secret"),
		accessTTL: defaultAccessTTL,
		nowTime:   time.Now,
		log:       zerolog.Nop(),
		accounts:  make(map[string]*Account),
		refresh:   make(map[string]*refreshRecord),
		nextID:    1,
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	middleware := []func(http.HandlerFunc) http.HandlerFunc{
		s.RecoverMiddleware,
		s.LoggingMiddleware,
	}
	s.RegisterRouteFunc("POST /login/", ChainMiddleware(s.handleLogin, middleware...))
	s.RegisterRouteFunc("POST /refresh/", ChainMiddleware(s.handleRefresh, middleware...))
	s.RegisterRouteFunc("GET /auth/me", ChainMiddleware(s.handleMe, middleware...))
}

// RegisterRouteFunc adds a handler for the given pattern.
func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes returns the registered route patterns.
func (s *Server) Routes() []string {
	return s.routes
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[req.Username]
	s.mu.Unlock()

	if !ok || !CheckPasswordHash(req.Password, account.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	access, err := s.mintAccess(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	refresh, err := s.issueRefresh(account.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	record, ok := s.refresh[req.Refresh]
	if ok {
		// Single use: the presented token is consumed even if minting fails.
		delete(s.refresh, req.Refresh)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token invalid")
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[record.Username]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token invalid")
		return
	}

	access, err := s.mintAccess(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	refresh, err := s.issueRefresh(account.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	account, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "token not valid")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         account.ID,
		"username":   account.Username,
		"email":      account.Email,
		"first_name": account.FirstName,
		"last_name":  account.LastName,
		"role":       account.Role,
		"groups":     account.Groups,
	})
}

// authenticate verifies the bearer token. Unlike the client, the mock
// backend does verify the signature - that is the server's job.
func (s *Server) authenticate(r *http.Request) (*Account, bool) {
	authHeader := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || raw == "" {
		return nil, false
	}

	parsed, err := jwtlib.Parse(raw, func(*jwtlib.Token) (any, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, false
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, false
	}
	username, _ := claims["username"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[username]
	return account, ok
}

func (s *Server) mintAccess(account *Account) (string, error) {
	return token.Mint(s.secret, token.Identity{
		UserID:   strconv.FormatInt(account.ID, 10),
		Username: account.Username,
		Role:     account.Role,
		Groups:   account.Groups,
	}, s.accessTTL)
}

// issueRefresh creates a new opaque refresh token for the user, revoking any
// existing one (a single refresh token per user).
func (s *Server) issueRefresh(username string) (string, error) {
	tokenBytes := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	tokenStr := hex.EncodeToString(tokenBytes)

	s.mu.Lock()
	defer s.mu.Unlock()
	for existing, record := range s.refresh {
		if record.Username == username {
			delete(s.refresh, existing)
		}
	}
	s.refresh[tokenStr] = &refreshRecord{Username: username, IssuedAt: s.nowTime()}
	return tokenStr, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
