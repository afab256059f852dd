package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/starford/annostore/internal/apperr"
)

// StalePolicy decides what happens when the recorded lock owner is gone.
type StalePolicy string

const (
	StaleRefuse StalePolicy = "refuse"
	StaleWarn   StalePolicy = "warn"
	StaleIgnore StalePolicy = "ignore"
)

const (
	lockFileName = ".annostore.lock"
	pidFileName  = ".annostore.pid"
)

// LockOptions configure a Locker.
type LockOptions struct {
	Timeout     time.Duration
	RetryDelay  time.Duration
	StalePolicy StalePolicy
}

// Locker serializes access to the whole data area across processes with
// an advisory file lock. The owning pid is recorded next to the lock so a
// crashed owner can be detected.
type Locker struct {
	lockPath string
	pidPath  string
	opts     LockOptions
	logger   *slog.Logger
}

// NewLocker returns a Locker for the data area at root.
func NewLocker(root string, opts LockOptions, logger *slog.Logger) *Locker {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	if opts.StalePolicy == "" {
		opts.StalePolicy = StaleWarn
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		lockPath: filepath.Join(root, lockFileName),
		pidPath:  filepath.Join(root, pidFileName),
		opts:     opts,
		logger:   logger,
	}
}

// Lease is a held data-area lock.
type Lease struct {
	flk     *flock.Flock
	pidPath string
	done    bool
}

// Acquire blocks until the lock is held, ctx ends, or the configured
// timeout elapses; the latter fails with apperr.ErrLockTimeout.
func (l *Locker) Acquire(ctx context.Context) (*Lease, error) {
	// Each lease opens its own descriptor: flock(2) only excludes across
	// open file descriptions, and a shared *flock.Flock would report an
	// already held lock as acquired.
	flk := flock.New(l.lockPath)

	var ok bool
	var err error
	if l.opts.Timeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
		ok, err = flk.TryLockContext(tctx, l.opts.RetryDelay)
		cancel()
	} else {
		ok, err = flk.TryLock()
	}
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !ok) {
		return nil, fmt.Errorf("%w after %s", apperr.ErrLockTimeout, l.opts.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: acquire lock: %w", err)
	}

	if err := l.checkStale(); err != nil {
		_ = flk.Unlock()
		return nil, err
	}
	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = flk.Unlock()
		return nil, fmt.Errorf("storage: record lock owner: %w", err)
	}
	return &Lease{flk: flk, pidPath: l.pidPath}, nil
}

// checkStale inspects the owner left behind by a previous holder. The
// flock itself is released by the kernel when a process dies, so a pid
// file surviving its process means the owner exited without releasing.
func (l *Locker) checkStale() error {
	data, err := os.ReadFile(l.pidPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: read lock owner: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || processAlive(pid) {
		return nil
	}

	switch l.opts.StalePolicy {
	case StaleRefuse:
		return fmt.Errorf("%w: pid %d (remove %s to continue)", apperr.ErrStaleLock, pid, l.pidPath)
	case StaleWarn:
		l.logger.Warn("taking over stale data lock", slog.Int("stale_pid", pid), slog.String("lock", l.lockPath))
	}
	return nil
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Release unlocks the data area. It is safe to call more than once.
func (le *Lease) Release() error {
	if le == nil || le.done {
		return nil
	}
	le.done = true
	if err := os.Remove(le.pidPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = le.flk.Unlock()
		return fmt.Errorf("storage: clear lock owner: %w", err)
	}
	return le.flk.Unlock()
}

// WithLock runs fn while holding the data-area lock and releases it on
// every exit path, including panics.
func (l *Locker) WithLock(ctx context.Context, fn func() error) (err error) {
	lease, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
