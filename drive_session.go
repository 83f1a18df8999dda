package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/gdrive-go/internal/auth"
	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// driveEndpoint overrides the Drive API base URL. Empty means the library
// default; tests point it at a fake server.
var driveEndpoint string

// DriveSession is an authorized Drive client plus the manager that produced
// its credential.
type DriveSession struct {
	Client  *gdrive.Client
	Auth    *auth.Manager
	Account string // cached email from the credential store, may be empty
}

// newAuthManager builds a credential manager from resolved config.
func newAuthManager(resolved *config.Resolved, logger *slog.Logger) *auth.Manager {
	return auth.NewManager(auth.Config{
		TokenPath:        resolved.TokenPath,
		ClientSecretPath: resolved.ClientSecretPath,
		Scopes:           resolved.Scopes,
		LoginTimeout:     resolved.LoginTimeout,
	}, logger)
}

// driveOptions maps resolved config onto client options. A configured
// max_retries of 0 disables retrying; the client reads 0 as "default".
func driveOptions(resolved *config.Resolved) gdrive.Options {
	retries := resolved.MaxRetries
	if retries == 0 {
		retries = -1
	}

	return gdrive.Options{
		Endpoint:        driveEndpoint,
		ChunkSize:       resolved.ChunkSize,
		UploadChunkSize: int(resolved.UploadChunkSize),
		MaxRetries:      retries,
		UserAgent:       resolved.UserAgent,
		ConnectTimeout:  resolved.ConnectTimeout,
	}
}

// NewDriveSession obtains a valid credential (reusing, refreshing or
// interactively acquiring it) and binds a Drive client to it.
func NewDriveSession(ctx context.Context, resolved *config.Resolved, logger *slog.Logger) (*DriveSession, error) {
	mgr := newAuthManager(resolved, logger)

	tok, err := mgr.EnsureValid(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return nil, fmt.Errorf("%w (client secret: %s)", err, resolved.ClientSecretPath)
		}

		return nil, err
	}

	return bindSession(ctx, mgr, tok, resolved, logger)
}

func bindSession(
	ctx context.Context,
	mgr *auth.Manager,
	tok *oauth2.Token,
	resolved *config.Resolved,
	logger *slog.Logger,
) (*DriveSession, error) {
	ts, err := mgr.TokenSource(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gdrive.ErrServiceInit, err)
	}

	client, err := gdrive.NewClient(ctx, ts, tok, driveOptions(resolved), logger)
	if err != nil {
		return nil, err
	}

	session := &DriveSession{Client: client, Auth: mgr}

	if tf, loadErr := mgr.LoadPersisted(); loadErr == nil {
		session.Account = tf.Meta["email"]
	}

	logger.Debug("drive session ready", slog.String("account", session.Account))

	return session, nil
}
