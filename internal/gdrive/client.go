// Package gdrive is a thin client for the Google Drive v3 API: list, upload,
// download and delete files in the authorized account. Every failure is
// translated into the package's error taxonomy; nothing is printed or
// swallowed.
package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/text/unicode/norm"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultPageSize        = 10
	DefaultChunkSize       = 100 * 1024 * 1024
	DefaultUploadChunkSize = 16 * 1024 * 1024
	DefaultMaxRetries      = 3
	DefaultConnectTimeout  = 10 * time.Second
	DefaultUserAgent       = "gdrive-go/0.1"
)

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Endpoint overrides the Drive API base URL. Tests point it at a fake.
	Endpoint string

	// ChunkSize is the byte length of each ranged download request.
	ChunkSize int64

	// UploadChunkSize is passed to the library's media uploader; files that
	// fit in one chunk go up in a single multipart request.
	UploadChunkSize int

	// MaxRetries bounds retries of transient failures. Negative disables
	// retrying; zero means DefaultMaxRetries.
	MaxRetries int

	UserAgent      string
	ConnectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}

	if o.UploadChunkSize <= 0 {
		o.UploadChunkSize = DefaultUploadChunkSize
	}

	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}

	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	return o
}

// FileRecord is a remote file as reported by the service.
type FileRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Account is the authorized user and their storage quota.
type Account struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	QuotaLimit  int64  `json:"quotaLimit"` // 0 means unlimited
	QuotaUsage  int64  `json:"quotaUsage"`
}

// ProgressFunc is called after each transferred chunk with the bytes done
// so far and the total, or -1 when the total is unknown.
type ProgressFunc func(done, total int64)

// Client is an authorized Drive session. It is bound to one credential at
// construction and holds no mutable state, so it may be shared.
type Client struct {
	svc    *drive.Service
	opts   Options
	retry  *retryTransport
	logger *slog.Logger
}

// NewClient builds a session from a valid credential. ts supplies tokens
// for the session's lifetime, starting with cred. A nil or expired cred is
// refused; no remote call is ever attempted with an invalid credential.
// Every failure wraps ErrServiceInit.
func NewClient(
	ctx context.Context,
	ts oauth2.TokenSource,
	cred *oauth2.Token,
	opts Options,
	logger *slog.Logger,
) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cred == nil || !cred.Valid() {
		return nil, fmt.Errorf("%w: credential missing or expired", ErrServiceInit)
	}

	if ts == nil {
		return nil, fmt.Errorf("%w: no token source", ErrServiceInit)
	}

	opts = opts.withDefaults()

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("%w: default transport is %T", ErrServiceInit, http.DefaultTransport)
	}

	transport := base.Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	retry := newRetryTransport(transport, opts.MaxRetries, logger)

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(cred, ts),
			Base:   retry,
		},
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := drive.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceInit, err)
	}

	svc.UserAgent = opts.UserAgent

	logger.Debug("drive session ready",
		slog.String("base_path", svc.BasePath),
		slog.Time("credential_expiry", cred.Expiry),
	)

	return &Client{
		svc:    svc,
		opts:   opts,
		retry:  retry,
		logger: logger,
	}, nil
}

// ListFiles returns up to pageSize files from the first page of the
// account's listing. pageSize <= 0 means DefaultPageSize. No files is an
// empty slice, not an error.
func (c *Client) ListFiles(ctx context.Context, pageSize int) ([]FileRecord, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	list, err := c.svc.Files.List().
		PageSize(int64(pageSize)).
		Fields("nextPageToken, files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, newRemoteError("files.list", "", err)
	}

	records := make([]FileRecord, 0, len(list.Files))
	for _, f := range list.Files {
		if len(records) == pageSize {
			break
		}

		records = append(records, toRecord(f))
	}

	c.logger.Debug("listed files",
		slog.Int("count", len(records)),
		slog.Bool("more", list.NextPageToken != ""),
	)

	return records, nil
}

// UploadFile creates a new remote file named name with the contents of
// localPath. An empty mimeType lets the library detect it.
func (c *Client) UploadFile(ctx context.Context, name, localPath, mimeType string) (*FileRecord, error) {
	return c.UploadFileWithProgress(ctx, name, localPath, mimeType, nil)
}

// UploadFileWithProgress is UploadFile with a progress callback. Progress is
// reported per chunk, so files smaller than one chunk get no callbacks.
func (c *Client) UploadFileWithProgress(
	ctx context.Context,
	name, localPath, mimeType string,
	progress ProgressFunc,
) (*FileRecord, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalRead, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalRead, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrLocalRead, localPath)
	}

	// Drive stores names byte-for-byte; NFC keeps names typed on different
	// platforms comparable.
	meta := &drive.File{Name: norm.NFC.String(name)}

	mediaOpts := []googleapi.MediaOption{googleapi.ChunkSize(c.opts.UploadChunkSize)}
	if mimeType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(mimeType))
	}

	call := c.svc.Files.Create(meta).
		Media(f, mediaOpts...).
		Fields("id, name, mimeType, size").
		Context(ctx)

	if progress != nil {
		size := info.Size()
		call = call.ProgressUpdater(func(current, _ int64) {
			progress(current, size)
		})
	}

	c.logger.Info("uploading file",
		slog.String("name", meta.Name),
		slog.String("local_path", localPath),
		slog.Int64("size", info.Size()),
	)

	created, err := call.Do()
	if err != nil {
		return nil, newRemoteError("files.create", "", err)
	}

	rec := toRecord(created)

	c.logger.Info("upload complete",
		slog.String("id", rec.ID),
		slog.String("name", rec.Name),
	)

	return &rec, nil
}

// DeleteFile permanently deletes a remote file, bypassing the trash. It
// returns true on success; a missing id is a *RemoteError wrapping
// ErrNotFound.
func (c *Client) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	if err := c.svc.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return false, newRemoteError("files.delete", fileID, err)
	}

	c.logger.Info("deleted file", slog.String("id", fileID))

	return true, nil
}

// About returns the authorized account and its storage quota.
func (c *Client) About(ctx context.Context) (*Account, error) {
	about, err := c.svc.About.Get().
		Fields("user(displayName,emailAddress),storageQuota(limit,usage)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, newRemoteError("about.get", "", err)
	}

	acct := &Account{}

	if about.User != nil {
		acct.DisplayName = about.User.DisplayName
		acct.Email = about.User.EmailAddress
	}

	if about.StorageQuota != nil {
		acct.QuotaLimit = about.StorageQuota.Limit
		acct.QuotaUsage = about.StorageQuota.Usage
	}

	return acct, nil
}

func toRecord(f *drive.File) FileRecord {
	return FileRecord{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
}
