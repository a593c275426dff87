package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
	csrfTokenLen   = 32
	csrfMaxAge     = 12 * time.Hour
)

// csrfManager issues and validates double-submit tokens
type csrfManager struct {
	mu     sync.RWMutex
	tokens map[string]time.Time // token -> expiry
}

func newCSRFManager() *csrfManager {
	return &csrfManager{tokens: make(map[string]time.Time)}
}

// generateToken creates a new cryptographically secure CSRF token
func (m *csrfManager) generateToken() (string, error) {
	b := make([]byte, csrfTokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(b)

	m.mu.Lock()
	m.tokens[token] = time.Now().Add(csrfMaxAge)
	m.mu.Unlock()

	return token, nil
}

// validateToken checks if a token is known and not expired
func (m *csrfManager) validateToken(token string) bool {
	if token == "" {
		return false
	}

	m.mu.RLock()
	expiry, exists := m.tokens[token]
	m.mu.RUnlock()

	return exists && time.Now().Before(expiry)
}

// cleanup removes expired tokens
func (m *csrfManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// getOrCreateCSRFToken returns the cookie token if still valid, otherwise
// issues a new one
func (h *Handler) getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if h.disableCSRF {
		return ""
	}
	if cookie, err := r.Cookie(csrfCookieName); err == nil {
		if h.csrf.validateToken(cookie.Value) {
			return cookie.Value
		}
	}

	token, err := h.csrf.generateToken()
	if err != nil {
		h.log.Error("failed to generate csrf token", "error", err)
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	return token
}

// requireCSRF validates CSRF and writes an error response if invalid.
// Returns true if valid, false if the response was already written.
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	if h.validateCSRF(r) {
		return true
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
	return false
}

// validateCSRF checks the token on state-changing requests. The token may
// arrive as a form field or, for script requests, in the X-CSRF-Token header.
func (h *Handler) validateCSRF(r *http.Request) bool {
	if h.disableCSRF {
		return true
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}

	token := r.Header.Get(csrfHeader)
	if token == "" {
		if err := r.ParseForm(); err != nil {
			return false
		}
		token = r.FormValue(csrfFormField)
	}

	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) == 1 &&
		h.csrf.validateToken(token)
}

// StartCSRFCleanup periodically drops expired tokens until ctx is done
func (h *Handler) StartCSRFCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.csrf.cleanup()
			}
		}
	}()
}
