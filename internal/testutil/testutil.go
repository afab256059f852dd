// Package testutil provides shared test helpers for setting up data areas,
// journals and document services.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/annostore/internal/docservice"
	"github.com/starford/annostore/internal/journal"
	"github.com/starford/annostore/internal/session"
	"github.com/starford/annostore/internal/storage"
)

// QuietLogger logs errors only.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestJournal creates a temporary journal database that is automatically cleaned up.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "annostore-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDataArea creates a temporary data area with a storage.FS.
func TestDataArea(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, fs
}

// TestOpener returns a session opener over fs with a short lock timeout.
func TestOpener(fs *storage.FS) *session.Opener {
	logger := QuietLogger()
	locker := storage.NewLocker(fs.Root(), storage.LockOptions{
		Timeout:    500 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	}, logger)
	return &session.Opener{FS: fs, Locker: locker, Logger: logger}
}

// TestService wires a document service over a fresh data area and journal.
// events may be nil.
func TestService(t *testing.T, events docservice.Publisher) (string, *docservice.Service) {
	t.Helper()
	root, fs := TestDataArea(t)
	return root, docservice.NewService(TestOpener(fs), TestJournal(t), events, QuietLogger())
}

// WriteDoc writes content to rel under root, creating parent directories.
func WriteDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadDoc returns the content of rel under root.
func ReadDoc(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
