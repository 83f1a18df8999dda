package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// DownloadFile writes the content of a remote file to destPath, fetching it
// in ranged chunks of Options.ChunkSize. It returns true only when the whole
// file was written. It returns false with a nil error when the server stops
// sending data before the reported size was reached.
//
// The remote file is resolved before destPath is touched, so an unknown id
// leaves the local filesystem alone. A failure mid-transfer leaves the
// partial file on disk.
func (c *Client) DownloadFile(ctx context.Context, fileID, destPath string) (bool, error) {
	return c.DownloadFileWithProgress(ctx, fileID, destPath, nil)
}

// DownloadFileWithProgress is DownloadFile with a callback after each chunk.
func (c *Client) DownloadFileWithProgress(
	ctx context.Context,
	fileID, destPath string,
	progress ProgressFunc,
) (complete bool, err error) {
	resp, err := c.fetchRange(ctx, fileID, 0)
	if err != nil {
		// A zero-length file has no satisfiable range.
		if errors.Is(err, ErrRangeNotSatisfiable) {
			if emptyErr := createEmpty(destPath); emptyErr != nil {
				return false, emptyErr
			}

			c.logDownloaded(fileID, 0)

			return true, nil
		}

		return false, err
	}

	f, err := os.Create(destPath)
	if err != nil {
		resp.Body.Close()
		return false, fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			complete = false
			err = fmt.Errorf("%w: %w", ErrLocalWrite, closeErr)
		}
	}()

	w := &trackingWriter{w: f}

	c.logger.Info("downloading file",
		slog.String("id", fileID),
		slog.String("dest", destPath),
	)

	var offset int64

	for {
		// Range ignored: the body is the whole file.
		if resp.StatusCode == http.StatusOK {
			if offset > 0 {
				c.logger.Warn("server ignored range, restarting from the beginning",
					slog.String("id", fileID),
					slog.Int64("discarded", offset),
				)

				if err := rewind(f); err != nil {
					resp.Body.Close()
					return false, err
				}

				offset = 0
			}

			n, copyErr := copyChunk(w, resp, fileID)
			offset += n

			if copyErr != nil {
				return false, copyErr
			}

			report(progress, offset, offset)
			c.logDownloaded(fileID, offset)

			return true, nil
		}

		total := contentRangeTotal(resp.Header.Get("Content-Range"))

		n, copyErr := copyChunk(w, resp, fileID)
		offset += n

		if copyErr != nil {
			return false, copyErr
		}

		report(progress, offset, total)

		switch {
		case total >= 0 && offset >= total:
			c.logDownloaded(fileID, offset)
			return true, nil
		case n == 0:
			c.logger.Warn("download stopped before completion",
				slog.String("id", fileID),
				slog.Int64("bytes", offset),
				slog.Int64("total", total),
			)

			return false, nil
		case total < 0 && n < c.opts.ChunkSize:
			// Unknown size: a short chunk is the last one.
			c.logDownloaded(fileID, offset)
			return true, nil
		}

		resp, err = c.fetchRange(ctx, fileID, offset)
		if err != nil {
			if total < 0 && errors.Is(err, ErrRangeNotSatisfiable) {
				c.logDownloaded(fileID, offset)
				return true, nil
			}

			return false, err
		}
	}
}

// fetchRange requests one chunk starting at offset. Errors are
// *RemoteError.
func (c *Client) fetchRange(ctx context.Context, fileID string, offset int64) (*http.Response, error) {
	call := c.svc.Files.Get(fileID).Context(ctx)
	call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+c.opts.ChunkSize-1))

	resp, err := call.Download()
	if err != nil {
		return nil, newRemoteError("files.get", fileID, err)
	}

	return resp, nil
}

func (c *Client) logDownloaded(fileID string, size int64) {
	c.logger.Info("download complete",
		slog.String("id", fileID),
		slog.Int64("bytes", size),
	)
}

// copyChunk copies and closes one response body. A failed write is
// ErrLocalWrite; a failed read is a *RemoteError.
func copyChunk(w *trackingWriter, resp *http.Response, fileID string) (int64, error) {
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err == nil {
		return n, nil
	}

	if w.err != nil {
		return n, fmt.Errorf("%w: %w", ErrLocalWrite, w.err)
	}

	return n, newRemoteError("files.get", fileID, err)
}

// trackingWriter records the first write error so a copy failure can be
// attributed to the local side or the remote side.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}

	return n, err
}

// contentRangeTotal returns the complete length from a header of the form
// "bytes 0-99/1234", or -1 when it is absent or unknown ("*").
func contentRangeTotal(header string) int64 {
	_, total, ok := strings.Cut(header, "/")
	if !ok {
		return -1
	}

	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || n < 0 {
		return -1
	}

	return n
}

// rewind discards everything written to f so far.
func rewind(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	return nil
}

func createEmpty(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	return nil
}

func report(progress ProgressFunc, done, total int64) {
	if progress != nil {
		progress(done, total)
	}
}
