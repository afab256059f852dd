// Package session manages the lifecycle of one opened document: locking
// the data area, parsing the backing file, and writing edits back.
package session

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/checksum"
	"github.com/starford/annostore/internal/parser"
	"github.com/starford/annostore/internal/storage"
	"github.com/starford/annostore/internal/store"
)

// State is a session lifecycle stage.
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Opener opens sessions against one data area.
type Opener struct {
	FS     storage.Provider
	Locker *storage.Locker // nil disables locking
	Logger *slog.Logger
}

// Option customises an opened session.
type Option func(*Session)

// ReadOnly opens the document read-only regardless of its backing files.
func ReadOnly() Option {
	return func(s *Session) { s.forceRO = true }
}

// Session is one opened document. It is not safe for concurrent use.
type Session struct {
	id       string
	fs       storage.Provider
	doc      *storage.Document
	lease    *storage.Lease
	st       *store.Store
	rec      store.Recorder
	original []byte
	forceRO  bool
	state    State
	saved    bool
	sum      string
	logger   *slog.Logger
}

// Open locks the data area, resolves doc and parses it. The lock is held
// until Close or Discard.
func (o *Opener) Open(ctx context.Context, doc string, opts ...Option) (*Session, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{id: uuid.NewString(), fs: o.FS, state: Opening}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With(slog.String("session_id", s.id), slog.String("document", doc))

	if o.Locker != nil {
		lease, err := o.Locker.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		s.lease = lease
	}

	d, err := o.FS.Resolve(doc)
	if err != nil {
		_ = s.lease.Release()
		return nil, err
	}
	s.doc = d
	s.original = d.Content
	s.sum = checksum.Sum(d.Content)
	s.st = parser.Parse(d.Content)
	s.st.SetReadOnly(d.ReadOnly || s.forceRO)
	s.state = Open

	if failed := s.st.FailedLines(); len(failed) > 0 {
		s.logger.Warn("document has unparseable lines", slog.Any("lines", failed))
	}
	s.logger.Debug("session opened", slog.Bool("read_only", s.st.ReadOnly()), slog.Int("lines", s.st.Len()))
	return s, nil
}

// Run opens doc, calls fn, and closes the session. Edits are written back
// only when fn returns nil; on error or panic they are discarded.
func (o *Opener) Run(ctx context.Context, doc string, fn func(*Session) error, opts ...Option) error {
	s, err := o.Open(ctx, doc, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = s.Discard()
			panic(r)
		}
	}()
	if err := fn(s); err != nil {
		_ = s.Discard()
		return err
	}
	if err := s.Close(); err != nil {
		_ = s.Discard()
		return err
	}
	return nil
}

func (s *Session) check() error {
	if s.state != Open {
		return fmt.Errorf("%w (%s)", apperr.ErrSessionClosed, s.state)
	}
	return nil
}

// ID returns the session id used in logs and the journal.
func (s *Session) ID() string { return s.id }

// Ref returns the document reference.
func (s *Session) Ref() string { return s.doc.Ref }

// State returns the lifecycle stage.
func (s *Session) State() State { return s.state }

// ReadOnly reports whether mutations are rejected.
func (s *Session) ReadOnly() bool { return s.st.ReadOnly() }

// Checksum returns the digest of the document as last read or written.
func (s *Session) Checksum() string { return s.sum }

// Saved reports whether Close wrote the document back.
func (s *Session) Saved() bool { return s.saved }

// LastModified returns the time of the last in-memory edit.
func (s *Session) LastModified() time.Time { return s.st.LastModified() }

// FailedLines returns the 0-based indices of unparseable lines.
func (s *Session) FailedLines() []int { return s.st.FailedLines() }

// Changes returns every change made in this session so far.
func (s *Session) Changes() []store.Change { return s.rec.Changes() }

// Add inserts a; see store.Store.Add.
func (s *Session) Add(a annotation.Annotation, tr store.Tracker) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.st.Add(a, store.Tee(&s.rec, tr))
}

// Delete removes a and its cascadable dependents; see store.Store.Delete.
func (s *Session) Delete(a annotation.Annotation, tr store.Tracker) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.st.Delete(a, store.Tee(&s.rec, tr))
}

// GetByID returns the annotation holding id.
func (s *Session) GetByID(id annotation.ID) (annotation.Identified, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.st.GetByID(id)
}

// GetNewID returns the next unused id for prefix without reserving it.
func (s *Session) GetNewID(prefix string) (annotation.ID, error) {
	if err := s.check(); err != nil {
		return annotation.ID{}, err
	}
	return s.st.GetNewID(prefix), nil
}

// Line returns the line index of a, or -1.
func (s *Session) Line(a annotation.Annotation) int { return s.st.Line(a) }

// All yields every annotation in line order.
func (s *Session) All() iter.Seq[annotation.Annotation] { return s.st.All() }

// TextBounds yields text-bound annotations.
func (s *Session) TextBounds() iter.Seq[*annotation.TextBound] { return s.st.TextBounds() }

// Events yields events.
func (s *Session) Events() iter.Seq[*annotation.Event] { return s.st.Events() }

// Modifiers yields modifiers.
func (s *Session) Modifiers() iter.Seq[*annotation.Modifier] { return s.st.Modifiers() }

// Equivs yields equivalences.
func (s *Session) Equivs() iter.Seq[*annotation.Equiv] { return s.st.Equivs() }

// Notes yields notes, including metadata notes such as STATUS.
func (s *Session) Notes() iter.Seq[*annotation.Note] { return s.st.Notes() }

// Close writes the document back if it was edited and differs from what
// was read, then releases the lock. It is idempotent. When the write-back
// fails the session stays open with its edits so the caller can retry or
// Discard.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closing

	if err := s.flush(); err != nil {
		s.state = Open
		s.logger.Error("write-back failed", slog.String("error", err.Error()))
		return err
	}
	return s.release()
}

// Discard releases the lock without writing anything back.
func (s *Session) Discard() error {
	if s.state == Closed {
		return nil
	}
	if n := len(s.rec.Changes()); n > 0 && !s.saved {
		s.logger.Info("session discarded", slog.Int("dropped_changes", n))
	}
	return s.release()
}

func (s *Session) release() error {
	s.state = Closed
	if err := s.lease.Release(); err != nil {
		return fmt.Errorf("session: release lock: %w", err)
	}
	return nil
}

func (s *Session) flush() error {
	if s.st.ReadOnly() || s.st.LastModified().IsZero() {
		return nil
	}
	content := s.st.Serialize()
	if bytes.Equal(content, s.original) {
		return nil
	}
	if err := s.fs.WriteVerified(s.doc.Path(), content, s.verifier(content)); err != nil {
		return err
	}
	s.original = content
	s.sum = checksum.Sum(content)
	s.saved = true
	s.logger.Info("document saved", slog.Int("changes", len(s.rec.Changes())), slog.String("checksum", s.sum))
	return nil
}

// verifier re-reads and re-parses the written temp file and requires it
// to reproduce content without new unparseable lines. Fewer is possible:
// a line degraded for a duplicate id parses once the original is deleted.
func (s *Session) verifier(content []byte) func(string) error {
	unparsed := 0
	for range s.st.Unparsed() {
		unparsed++
	}
	return func(tmp string) error {
		data, err := os.ReadFile(tmp)
		if err != nil {
			return err
		}
		if !bytes.Equal(data, content) {
			return fmt.Errorf("written content differs from serialized store")
		}
		re := parser.Parse(data)
		if !bytes.Equal(re.Serialize(), content) {
			return fmt.Errorf("re-parse does not round trip")
		}
		if got := len(re.FailedLines()); got > unparsed {
			return fmt.Errorf("re-parse found %d unparseable lines, want at most %d", got, unparsed)
		}
		return nil
	}
}
