package gdrive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile_Chunked(t *testing.T) {
	fake, srv := newFakeDrive(t)
	content := []byte("0123456789abcdefghij") // 20 bytes
	id := fake.add("data.bin", content)
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "out.bin")

	var progress [][2]int64

	ok, err := c.DownloadFileWithProgress(context.Background(), id, dest, func(done, total int64) {
		progress = append(progress, [2]int64{done, total})
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Equal(t, []string{"bytes=0-7", "bytes=8-15", "bytes=16-23"}, fake.rangeHeader)
	assert.Equal(t, [][2]int64{{8, 20}, {16, 20}, {20, 20}}, progress)
}

func TestDownloadFile_ExactMultipleOfChunk(t *testing.T) {
	fake, srv := newFakeDrive(t)
	content := bytes.Repeat([]byte("x"), 16)
	id := fake.add("data.bin", content)
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "out.bin")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fake.rangeHeader, 2, "no request past the reported size")
}

func TestDownloadFile_EmptyRemoteFile(t *testing.T) {
	fake, srv := newFakeDrive(t)
	id := fake.add("empty.txt", nil)
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "empty.txt")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDownloadFile_RangeIgnored(t *testing.T) {
	fake, srv := newFakeDrive(t)
	content := []byte("the whole thing at once")
	id := fake.add("a.txt", content)
	fake.ignoreRange = true
	c := newTestClient(t, srv, Options{ChunkSize: 4})

	dest := filepath.Join(t.TempDir(), "a.txt")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Len(t, fake.rangeHeader, 1)
}

func TestDownloadFile_RangeIgnoredAfterFirstChunk(t *testing.T) {
	fake, srv := newFakeDrive(t)
	content := []byte("0123456789abcdefghij")
	id := fake.add("data.bin", content)
	fake.rangeAfter = 1
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "out.bin")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got, "bytes from the ranged chunk must not be kept in front of the full body")
	assert.Len(t, fake.rangeHeader, 2)
}

func TestDownloadFile_NonexistentIDIsRemoteError(t *testing.T) {
	_, srv := newFakeDrive(t)
	c := newTestClient(t, srv, Options{})

	dest := filepath.Join(t.TempDir(), "never.bin")

	ok, err := c.DownloadFile(context.Background(), "no-such-id", dest)
	assert.False(t, ok)
	require.Error(t, err, "a missing id is never (false, nil)")

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "files.get", re.Op)
	assert.Equal(t, "no-such-id", re.FileID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination untouched")
}

func TestDownloadFile_ServerStopsEarly(t *testing.T) {
	fake, srv := newFakeDrive(t)
	id := fake.add("data.bin", bytes.Repeat([]byte("y"), 20))
	fake.stopAt = 8
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "out.bin")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	require.NoError(t, err)
	assert.False(t, ok)

	// The partial file stays behind.
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())
}

func TestDownloadFile_FailureMidTransfer(t *testing.T) {
	fake, srv := newFakeDrive(t)
	id := fake.add("data.bin", bytes.Repeat([]byte("z"), 20))
	fake.failMediaAt = 8
	c := newTestClient(t, srv, Options{ChunkSize: 8})

	dest := filepath.Join(t.TempDir(), "out.bin")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrForbidden)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "download quota")

	info, statErr := os.Stat(dest)
	require.NoError(t, statErr)
	assert.Equal(t, int64(8), info.Size())
}

func TestDownloadFile_UnwritableDestination(t *testing.T) {
	fake, srv := newFakeDrive(t)
	id := fake.add("a.txt", []byte("abc"))
	c := newTestClient(t, srv, Options{})

	dest := filepath.Join(t.TempDir(), "missing-dir", "a.txt")

	ok, err := c.DownloadFile(context.Background(), id, dest)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLocalWrite)
}

func TestDownloadFile_RoundTripWithUpload(t *testing.T) {
	_, srv := newFakeDrive(t)
	c := newTestClient(t, srv, Options{ChunkSize: 5})

	content := []byte("round trip through the fake service")
	local := writeLocal(t, "src.txt", content)

	rec, err := c.UploadFile(context.Background(), "src.txt", local, "text/plain")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "dst.txt")

	ok, err := c.DownloadFile(context.Background(), rec.ID, dest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestContentRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"bytes 0-99/1234", 1234},
		{"bytes */20", 20},
		{"bytes 0-99/*", -1},
		{"", -1},
		{"bytes 0-99/-5", -1},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, contentRangeTotal(tt.header))
		})
	}
}
