// ABOUTME: HTTP surface for the user proxy: ask, health, and transcript endpoints.
// ABOUTME: Optional HS256 bearer-token auth; transcript rendered to HTML with goldmark.

package userproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yuin/goldmark"
)

// defaultAskTimeout bounds how long one ask may block on the moderator.
const defaultAskTimeout = 5 * time.Minute

type askRequest struct {
	Message string `json:"message"`
}

type askResponse struct {
	Replies []replyJSON `json:"replies"`
}

type replyJSON struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Server exposes the proxy over HTTP.
type Server struct {
	proxy  *Proxy
	secret []byte
	md     goldmark.Markdown
	logger *slog.Logger

	// AskTimeout bounds how long one ask may block on the moderator.
	// Zero means defaultAskTimeout.
	AskTimeout time.Duration
}

// NewServer wraps proxy. A non-empty secret enables bearer-token auth on
// the ask and transcript endpoints.
func NewServer(proxy *Proxy, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		proxy:  proxy,
		secret: []byte(secret),
		md:     goldmark.New(),
		logger: logger.With("component", "userproxy-http"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /ask", s.requireAuth(s.handleAsk))
	mux.HandleFunc("GET /transcript", s.requireAuth(s.handleTranscript))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	timeout := s.AskTimeout
	if timeout <= 0 {
		timeout = defaultAskTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	replies, err := s.proxy.Ask(ctx, req.Message)
	switch {
	case errors.Is(err, ErrBusy):
		http.Error(w, "a question is already in flight", http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("ask failed", "error", err)
		http.Error(w, "ask failed", http.StatusBadGateway)
		return
	}

	resp := askResponse{Replies: make([]replyJSON, 0, len(replies))}
	for _, reply := range replies {
		resp.Replies = append(resp.Replies, replyJSON{Author: reply.Author, Message: reply.Message})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var md strings.Builder
	for _, line := range s.proxy.Transcript() {
		fmt.Fprintf(&md, "**%s**: %s\n\n", DisplayName(line.Author), line.Text)
	}

	var html bytes.Buffer
	if err := s.md.Convert([]byte(md.String()), &html); err != nil {
		s.logger.Error("transcript render failed", "error", err)
		http.Error(w, "transcript render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(html.Bytes())
}

// requireAuth verifies an HS256 bearer token when a secret is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if len(s.secret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := s.verify(token); err != nil {
			s.logger.Warn("rejected token", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) verify(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// GenerateToken mints an HS256 token for the configured secret, used by
// operators to hand out client credentials.
func GenerateToken(secret string, subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
