// Package auth implements the bridge's authentication state (spec §4.7): a
// process-wide credential pair and an in-memory, debounced-flushed cookie map.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	cookieExpiry   = 30 * 24 * time.Hour
	flushDebounce  = 2 * time.Second
	cookieBytes    = 32
	randomPassword = 24
)

// Credentials is the on-disk credential record (spec §6.3 credentials.json).
type Credentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// LoadOrCreateCredentials reads path; if it does not exist, it creates it with a
// random 24-char password (spec §6.3/§6.4), unless username/password overrides are
// supplied (the USER/PASS env vars take precedence over the on-disk file).
func LoadOrCreateCredentials(path, envUser, envPass string) (Credentials, string, error) {
	if envUser != "" && envPass != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(envPass), bcrypt.DefaultCost)
		if err != nil {
			return Credentials{}, "", fmt.Errorf("hash password: %w", err)
		}
		return Credentials{Username: envUser, PasswordHash: string(hash)}, "", nil
	}

	if data, err := os.ReadFile(path); err == nil {
		var c Credentials
		if err := json.Unmarshal(data, &c); err != nil {
			return Credentials{}, "", fmt.Errorf("parse credentials file: %w", err)
		}
		return c, "", nil
	}

	password, err := RandomPassword()
	if err != nil {
		return Credentials{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Credentials{}, "", fmt.Errorf("hash password: %w", err)
	}
	c := Credentials{Username: "admin", PasswordHash: string(hash)}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Credentials{}, "", fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Credentials{}, "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Credentials{}, "", fmt.Errorf("write credentials file: %w", err)
	}
	return c, password, nil
}

// RandomPassword returns a random 24-char hex password (spec §6.3/§6.4).
func RandomPassword() (string, error) {
	return randomString(randomPassword)
}

func randomString(n int) (string, error) {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random password: %w", err)
	}
	return hex.EncodeToString(b)[:n], nil
}

type cookieEntry struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Service holds the process-wide credential pair and the cookie map.
type Service struct {
	creds Credentials
	path  string

	mu      sync.Mutex
	cookies map[string]cookieEntry
	dirty   bool

	logger *slog.Logger
}

// NewService constructs a Service, loading any persisted cookie map at path.
func NewService(creds Credentials, sessionsPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		creds:   creds,
		path:    sessionsPath,
		cookies: make(map[string]cookieEntry),
		logger:  logger.With("component", "auth"),
	}
	if data, err := os.ReadFile(sessionsPath); err == nil {
		_ = json.Unmarshal(data, &s.cookies)
	}
	return s
}

// Login checks username/password and, on success, issues a new cookie.
func (s *Service) Login(username, password string) (string, error) {
	if username != s.creds.Username {
		return "", fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	cookie, err := randomHex(cookieBytes)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cookies[cookie] = cookieEntry{Username: username, CreatedAt: time.Now()}
	s.dirty = true
	s.mu.Unlock()
	return cookie, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate cookie: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Logout invalidates a cookie.
func (s *Service) Logout(cookie string) {
	s.mu.Lock()
	delete(s.cookies, cookie)
	s.dirty = true
	s.mu.Unlock()
}

// Validate rejects unknown or expired cookies and garbage-collects expired
// entries it encounters along the way (spec §4.7).
func (s *Service) Validate(cookie string) (username string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.cookies[cookie]
	if !exists {
		return "", false
	}
	if time.Since(entry.CreatedAt) > cookieExpiry {
		delete(s.cookies, cookie)
		s.dirty = true
		return "", false
	}
	return entry.Username, true
}

// StartFlusher runs until done is closed, flushing the cookie map to disk every
// flushDebounce when dirty.
func (s *Service) StartFlusher(done <-chan struct{}) {
	ticker := time.NewTicker(flushDebounce)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *Service) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	snapshot := make(map[string]cookieEntry, len(s.cookies))
	for k, v := range s.cookies {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.logger.Warn("marshal auth sessions failed", "error", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Warn("write auth sessions failed", "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn("rename auth sessions failed", "error", err)
	}
}
