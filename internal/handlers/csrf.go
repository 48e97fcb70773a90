package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"mime"
	"net/http"
	"sync"
	"time"
)

// Console requests use double-submit tokens: the csrf_token cookie must equal
// the token sent with the request, and the token must have been issued by
// this process and not yet expired.
const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
	csrfTokenLen   = 32
	csrfMaxAge     = 12 * time.Hour
	csrfSweepEvery = time.Hour
)

// tokenStore remembers issued tokens until they expire
type tokenStore struct {
	mu     sync.RWMutex
	expiry map[string]time.Time
	now    func() time.Time
}

func newTokenStore() *tokenStore {
	return &tokenStore{expiry: make(map[string]time.Time), now: time.Now}
}

var csrf = newTokenStore()

// issue creates and remembers a random token
func (s *tokenStore) issue() (string, error) {
	b := make([]byte, csrfTokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.expiry[token] = s.now().Add(csrfMaxAge)
	s.mu.Unlock()

	return token, nil
}

func (s *tokenStore) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	expiry, ok := s.expiry[token]
	s.mu.RUnlock()

	return ok && s.now().Before(expiry)
}

// sweep drops expired tokens and returns how many were removed
func (s *tokenStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, expiry := range s.expiry {
		if !now.Before(expiry) {
			delete(s.expiry, token)
			removed++
		}
	}
	return removed
}

// getOrCreateCSRFToken returns the token from the request cookie, issuing a
// new cookie when it is missing or no longer valid
func (h *Handler) getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && csrf.valid(cookie.Value) {
		return cookie.Value
	}

	token, err := csrf.issue()
	if err != nil {
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

// requireCSRF validates the request token and writes a 403 if it is missing
// or does not match the cookie
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	if h.validateCSRF(r) {
		return true
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
	return false
}

func (h *Handler) validateCSRF(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}

	token := submittedToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) != 1 {
		return false
	}
	return csrf.valid(token)
}

// submittedToken reads the token from the X-CSRF-Token header or the form.
// Multipart bodies are parsed here if the handler has not parsed them yet,
// since ParseForm ignores them.
func submittedToken(r *http.Request) string {
	if token := r.Header.Get(csrfHeader); token != "" {
		return token
	}

	if r.MultipartForm == nil {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxUploadSize)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return ""
		}
	}
	return r.FormValue(csrfFormField)
}

// StartCSRFCleanup sweeps expired tokens until ctx is cancelled
func StartCSRFCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(csrfSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				csrf.sweep()
			}
		}
	}()
}
