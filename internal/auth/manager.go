// Package auth keeps a valid Google OAuth2 credential available to the
// Drive client. It reuses a stored credential when it is still valid,
// refreshes and re-persists it when it has expired, and otherwise runs the
// browser-based authorization code flow against the operator's client
// secret file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/icza/gox/osx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/gdrive-go/internal/tokenfile"
)

// ErrAuthenticationFailed is returned when no valid credential could be
// obtained: the stored one was unusable and the interactive flow failed.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// Config is the explicit configuration of a Manager. Nothing in this package
// reads process-wide state.
type Config struct {
	TokenPath        string
	ClientSecretPath string
	Scopes           []string

	// LoginTimeout bounds the interactive flow. Zero means only the caller's
	// context applies.
	LoginTimeout time.Duration
}

// Manager obtains and keeps valid the credential used for all Drive calls.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	// OpenURL launches the consent page. Defaults to the OS browser; tests
	// replace it with a simulated browser.
	OpenURL func(string) error

	flight singleflight.Group
}

// NewManager creates a Manager. A nil logger falls back to slog.Default().
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		logger:  logger,
		OpenURL: osx.OpenDefault,
	}
}

// TokenPath returns the credential store location.
func (m *Manager) TokenPath() string {
	return m.cfg.TokenPath
}

// LoadPersisted reads the stored credential. Errors wrap
// tokenfile.ErrNotFound or tokenfile.ErrCorruptStore.
func (m *Manager) LoadPersisted() (*tokenfile.File, error) {
	return tokenfile.Load(m.cfg.TokenPath)
}

// Persist writes tok to the store, keeping any cached account metadata.
// Errors wrap tokenfile.ErrPersistFailure.
func (m *Manager) Persist(tok *oauth2.Token) error {
	return m.persist(tok, true)
}

func (m *Manager) persist(tok *oauth2.Token, keepMeta bool) error {
	tf := &tokenfile.File{
		Token:  tok,
		Scopes: grantedScopes(tok, m.cfg.Scopes),
	}

	if keepMeta {
		if prev, err := tokenfile.Load(m.cfg.TokenPath); err == nil {
			tf.Meta = prev.Meta
		}
	}

	return tokenfile.Save(m.cfg.TokenPath, tf)
}

// persistLogged persists tok and logs a failure instead of returning it.
// The credential stays usable for the current process either way.
func (m *Manager) persistLogged(tok *oauth2.Token, keepMeta bool) {
	if err := m.persist(tok, keepMeta); err != nil {
		m.logger.Warn("failed to persist credential",
			slog.String("path", m.cfg.TokenPath),
			slog.String("error", err.Error()),
		)

		return
	}

	m.logger.Debug("persisted credential",
		slog.String("path", m.cfg.TokenPath),
		slog.Time("expiry", tok.Expiry),
	)
}

// EnsureValid returns a valid credential. A stored valid credential is
// returned unchanged without any network call; an expired one with a
// refresh token is refreshed once and persisted; otherwise the interactive
// flow runs.
//
// Concurrent callers share a single attempt. The attempt is detached from
// the cancellation of whichever caller started it and bounded by
// LoginTimeout instead, so one caller giving up does not fail the others.
// Each caller still returns as soon as its own ctx is done.
func (m *Manager) EnsureValid(ctx context.Context) (*oauth2.Token, error) {
	ch := m.flight.DoChan("ensure", func() (any, error) {
		shared := context.WithoutCancel(ctx)

		if m.cfg.LoginTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, m.cfg.LoginTimeout)

			defer cancel()
		}

		return m.ensureValid(shared)
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("auth: waiting for credential: %w", ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return nil, res.Err
	}

	tok, ok := res.Val.(*oauth2.Token)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected credential type %T", ErrAuthenticationFailed, res.Val)
	}

	return tok, nil
}

func (m *Manager) ensureValid(ctx context.Context) (*oauth2.Token, error) {
	tf, err := m.LoadPersisted()

	switch {
	case err == nil:
		if tok, ok := m.reuseOrRefresh(ctx, tf); ok {
			return tok, nil
		}
	case errors.Is(err, tokenfile.ErrNotFound):
		m.logger.Info("no stored credential", slog.String("path", m.cfg.TokenPath))
	default:
		m.logger.Warn("stored credential unusable, re-authorizing",
			slog.String("path", m.cfg.TokenPath),
			slog.String("error", err.Error()),
		)
	}

	return m.Login(ctx)
}

// reuseOrRefresh returns the stored token if it is valid, or a refreshed
// token if it can be refreshed. ok is false when neither works.
func (m *Manager) reuseOrRefresh(ctx context.Context, tf *tokenfile.File) (*oauth2.Token, bool) {
	if !tf.Covers(m.cfg.Scopes) {
		m.logger.Info("stored credential lacks requested scopes, re-authorizing",
			slog.Any("stored", tf.Scopes),
			slog.Any("requested", m.cfg.Scopes),
		)

		return nil, false
	}

	if tf.Token.Valid() {
		m.logger.Debug("reusing stored credential", slog.Time("expiry", tf.Token.Expiry))
		return tf.Token, true
	}

	if tf.Token.RefreshToken == "" {
		m.logger.Info("stored credential expired without refresh token")
		return nil, false
	}

	tok, err := m.refresh(ctx, tf.Token)
	if err != nil {
		m.logger.Warn("credential refresh failed, re-authorizing", slog.String("error", err.Error()))
		return nil, false
	}

	m.persistLogged(tok, true)

	return tok, true
}

// refresh exchanges the refresh token of an expired credential for a new
// access token. Exactly one token endpoint request is made.
func (m *Manager) refresh(ctx context.Context, expired *oauth2.Token) (*oauth2.Token, error) {
	cfg, err := m.oauthConfig()
	if err != nil {
		return nil, err
	}

	m.logger.Info("refreshing expired credential", slog.Time("expired_at", expired.Expiry))

	tok, err := cfg.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing token: %w", err)
	}

	m.logger.Info("credential refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// TokenSource returns a source for the Drive session seeded with tok. When
// the oauth2 library silently refreshes during a long session, the new
// credential is persisted.
func (m *Manager) TokenSource(ctx context.Context, tok *oauth2.Token) (oauth2.TokenSource, error) {
	cfg, err := m.oauthConfig()
	if err != nil {
		return nil, err
	}

	return &persistingSource{
		src:    cfg.TokenSource(ctx, tok),
		last:   tok.AccessToken,
		save:   func(t *oauth2.Token) { m.persistLogged(t, true) },
		logger: m.logger,
	}, nil
}

// Logout removes the credential store. A missing store is not an error.
func (m *Manager) Logout() error {
	removed, err := tokenfile.Remove(m.cfg.TokenPath)
	if err != nil {
		return err
	}

	if !removed {
		m.logger.Info("logout: no credential to remove (already logged out)",
			slog.String("path", m.cfg.TokenPath),
		)

		return nil
	}

	m.logger.Info("logout: removed credential", slog.String("path", m.cfg.TokenPath))

	return nil
}

// oauthConfig parses the operator's client secret file.
func (m *Manager) oauthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(m.cfg.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("auth: reading client secret %s: %w", m.cfg.ClientSecretPath, err)
	}

	cfg, err := google.ConfigFromJSON(data, m.cfg.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing client secret %s: %w", m.cfg.ClientSecretPath, err)
	}

	// Google accepts client credentials in the form body. Left at auto-detect,
	// a failed refresh is retried with basic auth, a second token request.
	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	return cfg, nil
}

// grantedScopes returns the scopes the server reported granting, falling
// back to the requested set when the token response omits them.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}

	return requested
}

// persistingSource wraps an oauth2.TokenSource and saves every token whose
// access token differs from the last one seen.
type persistingSource struct {
	src    oauth2.TokenSource
	save   func(*oauth2.Token)
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("auth: obtaining token: %w", err)
	}

	s.mu.Lock()
	changed := t.AccessToken != s.last
	s.last = t.AccessToken
	s.mu.Unlock()

	if changed {
		s.logger.Info("token refreshed during session", slog.Time("new_expiry", t.Expiry))
		s.save(t)
	}

	return t, nil
}
