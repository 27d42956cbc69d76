package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var defaultIgnore = []string{"tmp", "root", "etc", "__pycache__", "*.pyc"}

// mockUploader implements Uploader for testing
type mockUploader struct {
	key  string
	data []byte
	err  error
}

func (m *mockUploader) Upload(_ context.Context, key string, r io.Reader, size int64) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.key = key
	m.data = data
	return nil
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func sandboxTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"raw":                             "print('hi')\n",
		"output":                          "hi\n",
		"secret":                          "#KSI_META_OUTPUT_0a859a#\ngrade=1\n",
		"box/run":                         "#!/bin/sh\n",
		"box/__pycache__/mod.cpython.pyc": "x",
		"box/helper.pyc":                  "x",
		"etc/passwd":                      "tester:x:62001:0:Tester:/:\n",
		"tmp/scratch":                     "x",
		"root/.profile":                   "x",
	})
	return src
}

func TestStoreArchive(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("CopiesTreeWithoutIgnored", func(t *testing.T) {
		store := NewStore(logger, StoreConfig{Root: t.TempDir(), Ignore: defaultIgnore})
		src := sandboxTree(t)

		require.NoError(t, store.Archive(ctx, src, 7, 3, Manifest{Kind: KindEvaluation, ID: "42"}))

		dst := store.Dir(3, 7)
		assert.Equal(t, filepath.Join(store.config.Root, "module_3", "user_7"), dst)

		for _, kept := range []string{"raw", "output", "secret", "box/run"} {
			assert.FileExists(t, filepath.Join(dst, kept))
		}
		for _, skipped := range []string{"etc", "tmp", "root", "box/__pycache__", "box/helper.pyc"} {
			assert.NoFileExists(t, filepath.Join(dst, skipped))
			assert.NoDirExists(t, filepath.Join(dst, skipped))
		}

		secret, err := os.ReadFile(filepath.Join(dst, "secret"))
		require.NoError(t, err)
		assert.Contains(t, string(secret), "grade=1")

		manifest, err := os.ReadFile(filepath.Join(dst, ManifestFile))
		require.NoError(t, err)
		assert.Equal(t, "evaluation\n42\n", string(manifest))
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		store := NewStore(logger, StoreConfig{Root: t.TempDir(), Ignore: defaultIgnore})

		first := t.TempDir()
		writeTree(t, first, map[string]string{"raw": "first", "only-first": "x"})
		require.NoError(t, store.Archive(ctx, first, 1, 1, Manifest{Kind: KindEvaluation, ID: "1"}))

		second := t.TempDir()
		writeTree(t, second, map[string]string{"raw": "second"})
		require.NoError(t, store.Archive(ctx, second, 1, 1, Manifest{Kind: KindExecution, ID: "2"}))

		dst := store.Dir(1, 1)
		assert.NoFileExists(t, filepath.Join(dst, "only-first"))
		raw, err := os.ReadFile(filepath.Join(dst, "raw"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(raw))

		manifest, err := store.ReadManifest(1, 1)
		require.NoError(t, err)
		assert.Equal(t, Manifest{Kind: KindExecution, ID: "2"}, manifest)
	})

	t.Run("KeepsSymlinksAsLinks", func(t *testing.T) {
		store := NewStore(logger, StoreConfig{Root: t.TempDir()})
		src := t.TempDir()
		require.NoError(t, os.Symlink("/etc/shadow", filepath.Join(src, "link")))

		require.NoError(t, store.Archive(ctx, src, 1, 2, Manifest{Kind: KindExecution, ID: "x"}))

		link, err := os.Readlink(filepath.Join(store.Dir(2, 1), "link"))
		require.NoError(t, err)
		assert.Equal(t, "/etc/shadow", link)
	})

	t.Run("MissingSource", func(t *testing.T) {
		store := NewStore(logger, StoreConfig{Root: t.TempDir()})
		err := store.Archive(ctx, filepath.Join(t.TempDir(), "gone"), 1, 1, Manifest{Kind: KindExecution, ID: "x"})
		require.Error(t, err)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := NewStore(logger, StoreConfig{Root: t.TempDir()})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := store.Archive(cancelled, sandboxTree(t), 1, 1, Manifest{Kind: KindExecution, ID: "x"})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStoreSnapshotUpload(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("UploadsSnapshot", func(t *testing.T) {
		uploader := &mockUploader{}
		store := NewStore(logger, StoreConfig{Root: t.TempDir(), Ignore: defaultIgnore, Snapshot: true}, WithUploader(uploader))

		require.NoError(t, store.Archive(ctx, sandboxTree(t), 9, 4, Manifest{Kind: KindEvaluation, ID: "e1"}))
		assert.Equal(t, "module_4/user_9.tar.zst", uploader.key)

		restored := t.TempDir()
		require.NoError(t, ExtractSnapshot(bytes.NewReader(uploader.data), restored))
		manifest, err := os.ReadFile(filepath.Join(restored, ManifestFile))
		require.NoError(t, err)
		assert.Equal(t, "evaluation\ne1\n", string(manifest))
		assert.FileExists(t, filepath.Join(restored, "box", "run"))
	})

	t.Run("UploadFailureIsNotFatal", func(t *testing.T) {
		uploader := &mockUploader{err: errors.New("connection refused")}
		store := NewStore(logger, StoreConfig{Root: t.TempDir(), Snapshot: true}, WithUploader(uploader))

		require.NoError(t, store.Archive(ctx, sandboxTree(t), 1, 1, Manifest{Kind: KindExecution, ID: "x"}))
		assert.FileExists(t, filepath.Join(store.Dir(1, 1), ManifestFile))
	})

	t.Run("DisabledSnapshot", func(t *testing.T) {
		uploader := &mockUploader{}
		store := NewStore(logger, StoreConfig{Root: t.TempDir()}, WithUploader(uploader))

		require.NoError(t, store.Archive(ctx, sandboxTree(t), 1, 1, Manifest{Kind: KindExecution, ID: "x"}))
		assert.Empty(t, uploader.key)
	})
}

func TestReadManifest(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t), StoreConfig{Root: t.TempDir()})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.ReadManifest(5, 5)
		require.ErrorIs(t, err, ErrNoArchive)
	})

	t.Run("Malformed", func(t *testing.T) {
		writeTree(t, store.Dir(6, 6), map[string]string{ManifestFile: "evaluation\n"})
		_, err := store.ReadManifest(6, 6)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed manifest")
	})
}

func TestStoreIgnored(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t), StoreConfig{Ignore: defaultIgnore})

	tests := []struct {
		name    string
		ignored bool
	}{
		{"tmp", true},
		{"etc", true},
		{"root", true},
		{"__pycache__", true},
		{"module.pyc", true},
		{"module.py", false},
		{"tmpfile", false},
		{"output", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ignored, store.ignored(tt.name))
		})
	}
}
