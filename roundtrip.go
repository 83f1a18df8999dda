package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

func newRoundtripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip <local-path>",
		Short: "Upload, list, download and delete a file to check access end to end",
		Long: `Exercise every file operation against the live account:
  1. upload <local-path>
  2. list files and look for the upload
  3. download it to --dest
  4. delete it

The uploaded copy is deleted even if a later step fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runRoundtrip,
	}

	cmd.Flags().String("dest", "", "download destination (default: <local-path>.download)")

	return cmd
}

// fileOps is the part of *gdrive.Client a roundtrip needs.
type fileOps interface {
	UploadFile(ctx context.Context, name, localPath, mimeType string) (*gdrive.FileRecord, error)
	ListFiles(ctx context.Context, pageSize int) ([]gdrive.FileRecord, error)
	DownloadFile(ctx context.Context, fileID, destPath string) (bool, error)
	DeleteFile(ctx context.Context, fileID string) (bool, error)
}

func runRoundtrip(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	dest, err := cmd.Flags().GetString("dest")
	if err != nil {
		return err
	}

	if dest == "" {
		dest = localPath + ".download"
	}

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	return roundtrip(ctx, session.Client, cmd.OutOrStdout(), localPath, dest, resolvedCfg.PageSize, logger)
}

// roundtrip uploads localPath, lists, downloads to dest and deletes the
// upload, writing one status line per step to w.
func roundtrip(
	ctx context.Context,
	ops fileOps,
	w io.Writer,
	localPath, dest string,
	pageSize int,
	logger *slog.Logger,
) (err error) {
	name := filepath.Base(localPath)

	fmt.Fprintln(w, "Uploading a file...")

	rec, err := ops.UploadFile(ctx, name, localPath, guessMimeType(localPath))
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Fprintf(w, "Uploaded file with ID %s\n", rec.ID)

	defer func() {
		fmt.Fprintln(w, "Deleting a file...")

		// Clean up even when the command context was canceled.
		if _, delErr := ops.DeleteFile(context.WithoutCancel(ctx), rec.ID); delErr != nil {
			logger.Warn("roundtrip cleanup failed", slog.String("id", rec.ID), slog.String("error", delErr.Error()))
			err = errors.Join(err, fmt.Errorf("delete: %w", delErr))

			return
		}

		fmt.Fprintln(w, "File deleted")
	}()

	fmt.Fprintln(w, "Listing files...")

	files, err := ops.ListFiles(ctx, pageSize)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "No files found.")
	} else {
		fmt.Fprintln(w, "Files:")

		for _, f := range files {
			fmt.Fprintf(w, "%s (%s)\n", f.Name, f.ID)
		}
	}

	if !slices.ContainsFunc(files, func(f gdrive.FileRecord) bool { return f.ID == rec.ID }) {
		// Not an error: the first page may be full of other files.
		logger.Info("uploaded file not on the first page", slog.String("id", rec.ID), slog.Int("page_size", pageSize))
	}

	fmt.Fprintln(w, "Downloading a file...")

	complete, err := ops.DownloadFile(ctx, rec.ID, dest)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	if !complete {
		fmt.Fprintln(w, "Failed to download file")
		return fmt.Errorf("download of %s incomplete; partial file left at %s", rec.ID, dest)
	}

	fmt.Fprintln(w, "File downloaded successfully")

	return nil
}
