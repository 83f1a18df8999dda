package main

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files",
		Long: `List the first page of files in the account. Only one page is fetched;
raise --page-size (at most 1000) to see more.`,
		Args: cobra.NoArgs,
		RunE: runLs,
	}

	cmd.Flags().Int("page-size", 0, "number of files to list (default from config, 10)")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>",
		Short: "Upload a file",
		Long: `Upload a local file as a new file in the root of the Drive. Google Drive
allows duplicate names, so uploading twice creates two files.`,
		Args: cobra.ExactArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("name", "", "remote file name (default: local base name)")
	cmd.Flags().String("mime-type", "", "content type (default: guessed from extension)")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file-id> <local-path>",
		Short: "Download a file by ID",
		Long: `Download a file's content to a local path, overwriting it. On failure the
partial local file is left in place.`,
		Args: cobra.ExactArgs(2),
		RunE: runGet,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file-id>",
		Short: "Permanently delete a file by ID",
		Long:  "Permanently delete a file. The file does not go to the trash.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("ls", slog.Int("page_size", resolvedCfg.PageSize))

	files, err := session.Client.ListFiles(ctx, resolvedCfg.PageSize)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), files)
	}

	printFilesTable(cmd.OutOrStdout(), files)

	return nil
}

func printFilesTable(w io.Writer, files []gdrive.FileRecord) {
	if len(files) == 0 {
		statusf("No files found.\n")
		return
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.ID, f.Name})
	}

	printTable(w, []string{"ID", "NAME"}, rows)
}

// putOutput is the JSON schema for `put --json`.
type putOutput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	if name == "" {
		name = filepath.Base(localPath)
	}

	mimeType, err := cmd.Flags().GetString("mime-type")
	if err != nil {
		return err
	}

	if mimeType == "" {
		mimeType = guessMimeType(localPath)
	}

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("put",
		slog.String("local_path", localPath),
		slog.String("name", name),
		slog.String("mime_type", mimeType),
	)

	progress := progressPrinter("Uploading", name)

	rec, err := session.Client.UploadFileWithProgress(ctx, name, localPath, mimeType, progress)
	endProgress(progress)

	if err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), putOutput{
			ID:       rec.ID,
			Name:     rec.Name,
			MimeType: rec.MimeType,
			Size:     rec.Size,
		})
	}

	statusf("Uploaded %s (%s)\n", rec.Name, formatSize(rec.Size))
	fmt.Fprintln(cmd.OutOrStdout(), rec.ID)

	return nil
}

// guessMimeType maps the file extension to a content type. Empty lets the
// upload sniff the content instead.
func guessMimeType(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}

func runGet(cmd *cobra.Command, args []string) error {
	fileID, localPath := args[0], args[1]
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("get", slog.String("id", fileID), slog.String("local_path", localPath))

	progress := progressPrinter("Downloading", fileID)

	complete, err := session.Client.DownloadFileWithProgress(ctx, fileID, localPath, progress)
	endProgress(progress)

	if err != nil {
		return fmt.Errorf("downloading %s: %w", fileID, err)
	}

	if !complete {
		return fmt.Errorf("download of %s stopped before completion; partial file left at %s", fileID, localPath)
	}

	statusf("Downloaded %s\n", localPath)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	fileID := args[0]
	logger := buildLogger()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := NewDriveSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	if _, err := session.Client.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("deleting %s: %w", fileID, err)
	}

	statusf("Deleted %s\n", fileID)

	return nil
}
