package internal

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"skillhub/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

// Server holds the HTTP-facing state: the durable store, the live presence
// hub, and the validator the websocket handshake uses.
type Server struct {
	store       *storage.Store
	registry    *Registry
	hub         *Hub
	validator   SessionValidator
	authLimiter *RateLimiter
	logger      zerolog.Logger
	tokenTTL    time.Duration
}

func NewServer(store *storage.Store, registry *Registry, hub *Hub, validator SessionValidator, logger zerolog.Logger, tokenTTL time.Duration) *Server {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Server{
		store:       store,
		registry:    registry,
		hub:         hub,
		validator:   validator,
		authLimiter: NewRateLimiter(10, time.Minute),
		logger:      logger,
		tokenTTL:    tokenTTL,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type followedUserDTO struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type followingResponse struct {
	Following []followedUserDTO `json:"following"`
}

type followStatusResponse struct {
	Username  string `json:"username"`
	Following bool   `json:"following"`
	Online    bool   `json:"online"`
}

type onlineUsersResponse struct {
	UserIDs []string `json:"userIds"`
}

type authContext struct {
	UserID   int64
	Username string
	Token    string
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.store.CreateUser(r.Context(), username, hash); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	signupsTotal.Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.tokenTTL)
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	loginsTotal.Inc()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: user.Username, ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		unauthorizedOrError(w, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFollowing lists the users the caller follows, each with a live
// online flag read from the presence registry.
func (s *Server) HandleFollowing(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		unauthorizedOrError(w, err)
		return
	}
	following, err := s.store.ListFollowing(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	users := make([]followedUserDTO, 0, len(following))
	for _, u := range following {
		users = append(users, followedUserDTO{
			Username: u.Username,
			Online:   s.registry.IsOnline(u.Username),
		})
	}
	writeJSON(w, http.StatusOK, followingResponse{Following: users})
}

func (s *Server) HandleFollow(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		unauthorizedOrError(w, err)
		return
	}
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}
	if strings.EqualFold(username, authCtx.Username) {
		writeError(w, http.StatusBadRequest, errors.New("cannot follow yourself"))
		return
	}
	followee, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if followee == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err := s.store.Follow(r.Context(), authCtx.UserID, followee.ID); err != nil {
		if errors.Is(err, storage.ErrAlreadyFollowing) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFollowStatus answers the follow-button state for one user: whether
// the caller follows them and whether they are online right now.
func (s *Server) HandleFollowStatus(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		unauthorizedOrError(w, err)
		return
	}
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}
	followee, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if followee == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	following, err := s.store.IsFollowing(r.Context(), authCtx.UserID, followee.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, followStatusResponse{
		Username:  followee.Username,
		Following: following,
		Online:    s.registry.IsOnline(followee.Username),
	})
}

func (s *Server) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		unauthorizedOrError(w, err)
		return
	}
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}
	followee, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if followee == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if err := s.store.Unfollow(r.Context(), authCtx.UserID, followee.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOnlineUsers mirrors the socket snapshot for plain HTTP callers.
func (s *Server) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateRequest(r); err != nil {
		unauthorizedOrError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, onlineUsersResponse{UserIDs: s.registry.Snapshot()})
}

func (s *Server) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errUnauthorized
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, errUnauthorized
	}
	sess, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{UserID: user.ID, Username: user.Username, Token: token}, nil
}

func unauthorizedOrError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, errUnauthorized) {
		status = http.StatusUnauthorized
	}
	http.Error(w, http.StatusText(status), status)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
