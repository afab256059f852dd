// Package docservice runs collaborator operations against documents. Each
// operation opens one session, and committed edits are journaled and
// published once the session closed successfully.
package docservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/journal"
	"github.com/starford/annostore/internal/models"
	"github.com/starford/annostore/internal/parser"
	"github.com/starford/annostore/internal/session"
	"github.com/starford/annostore/internal/sse"
	"github.com/starford/annostore/internal/storage"
	"github.com/starford/annostore/internal/store"
)

// Publisher broadcasts change events. *sse.Broker implements it.
type Publisher interface {
	Publish(event sse.Event)
}

// Service coordinates sessions, the journal and event publishing.
type Service struct {
	fs      storage.Provider
	opener  *session.Opener
	journal journal.Journal // optional
	events  Publisher       // optional
	logger  *slog.Logger
}

// NewService creates a new document service. journal and events may be nil.
func NewService(opener *session.Opener, j journal.Journal, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{fs: opener.FS, opener: opener, journal: j, events: events, logger: logger}
}

// ListDocuments returns metadata for every document in the data area.
func (s *Service) ListDocuments(_ context.Context) ([]models.DocumentMetadata, error) {
	return s.fs.List("")
}

// GetDocument returns every annotation of doc in line order.
func (s *Service) GetDocument(ctx context.Context, doc string) (*models.Document, error) {
	// Not opened read-only so that ReadOnly reports the backing files. An
	// unedited session never writes.
	var out *models.Document
	err := s.opener.Run(ctx, doc, func(sess *session.Session) error {
		out = documentView(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Report summarises a parsed document.
type Report struct {
	Ref         string         `json:"ref"`
	ReadOnly    bool           `json:"read_only"`
	Lines       int            `json:"lines"`
	Kinds       map[string]int `json:"kinds"`
	FailedLines []int          `json:"failed_lines"`
	LastSaved   *time.Time     `json:"last_saved,omitempty"`
}

// Check parses doc under the data-area lock and reports what it holds.
func (s *Service) Check(ctx context.Context, doc string) (*Report, error) {
	var out *Report
	err := s.opener.Run(ctx, doc, func(sess *session.Session) error {
		out = &Report{Ref: sess.Ref(), ReadOnly: sess.ReadOnly(), Kinds: map[string]int{}, FailedLines: sess.FailedLines()}
		for a := range sess.All() {
			out.Lines++
			out.Kinds[string(a.Kind())]++
		}
		return nil
	}, session.ReadOnly())
	if err != nil {
		return nil, err
	}
	if s.journal != nil {
		last, err := s.journal.LastSave(out.Ref)
		if err != nil {
			s.logger.Warn("journal: last save lookup failed", slog.String("document", out.Ref), slog.String("error", err.Error()))
		} else if last != nil {
			out.LastSaved = &last.CreatedAt
		}
	}
	return out, nil
}

// GetAnnotation returns the annotation with the given id.
func (s *Service) GetAnnotation(ctx context.Context, doc, id string) (*models.Annotation, error) {
	aid, err := annotation.ParseID(id)
	if err != nil {
		return nil, err
	}
	var out models.Annotation
	err = s.opener.Run(ctx, doc, func(sess *session.Session) error {
		a, err := sess.GetByID(aid)
		if err != nil {
			return err
		}
		out = View(a, sess.Line(a))
		return nil
	}, session.ReadOnly())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddAnnotation parses line and adds it to doc. ifMatch, when not empty,
// must equal the checksum of the document as stored.
func (s *Service) AddAnnotation(ctx context.Context, doc, line, ifMatch string) (*models.Annotation, error) {
	a, err := parser.ParseLine(line)
	if err != nil {
		return nil, err
	}
	var out models.Annotation
	err = s.mutate(ctx, doc, ifMatch, func(sess *session.Session) error {
		if err := sess.Add(a, nil); err != nil {
			return err
		}
		a = stored(sess, a)
		out = View(a, sess.Line(a))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// stored returns the annotation that holds a after it was added: a itself,
// or for a merged Equiv the equivalence that absorbed it.
func stored(sess *session.Session, a annotation.Annotation) annotation.Annotation {
	q, ok := a.(*annotation.Equiv)
	if !ok || sess.Line(a) >= 0 || len(q.Entities) == 0 {
		return a
	}
	for e := range sess.Equivs() {
		if e.Has(q.Entities[0]) {
			return e
		}
	}
	return a
}

// CreateAnnotation allocates the next id for prefix and adds the
// annotation whose line is that id, a tab, then rest.
func (s *Service) CreateAnnotation(ctx context.Context, doc, prefix, rest, ifMatch string) (*models.Annotation, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	var out models.Annotation
	err := s.mutate(ctx, doc, ifMatch, func(sess *session.Session) error {
		id, err := sess.GetNewID(prefix)
		if err != nil {
			return err
		}
		a, err := parser.ParseLine(id.String() + "\t" + rest)
		if err != nil {
			return err
		}
		if err := sess.Add(a, nil); err != nil {
			return err
		}
		out = View(a, sess.Line(a))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnotation removes the annotation with the given id and every
// annotation that only exists to qualify it. The returned changes list
// everything that was removed or shrunk.
func (s *Service) DeleteAnnotation(ctx context.Context, doc, id, ifMatch string) ([]models.Change, error) {
	aid, err := annotation.ParseID(id)
	if err != nil {
		return nil, err
	}
	rec := &store.Recorder{}
	err = s.mutate(ctx, doc, ifMatch, func(sess *session.Session) error {
		a, err := sess.GetByID(aid)
		if err != nil {
			return err
		}
		return sess.Delete(a, rec)
	})
	if err != nil {
		return nil, err
	}
	return changeViews(rec.Changes(), ""), nil
}

// NewID returns the next unused id for prefix in doc. The id is not
// reserved.
func (s *Service) NewID(ctx context.Context, doc, prefix string) (string, error) {
	if err := checkPrefix(prefix); err != nil {
		return "", err
	}
	var out string
	err := s.opener.Run(ctx, doc, func(sess *session.Session) error {
		id, err := sess.GetNewID(prefix)
		out = id.String()
		return err
	}, session.ReadOnly())
	return out, err
}

// History returns up to limit journaled changes of doc, newest first.
func (s *Service) History(_ context.Context, doc string, limit int) ([]models.Change, error) {
	if s.journal == nil {
		return []models.Change{}, nil
	}
	return s.journal.History(doc, limit)
}

// mutate runs fn in a writable session, checks ifMatch first, and after a
// successful commit records and publishes the session's changes.
func (s *Service) mutate(ctx context.Context, doc, ifMatch string, fn func(*session.Session) error) error {
	var opened *session.Session
	err := s.opener.Run(ctx, doc, func(sess *session.Session) error {
		opened = sess
		if ifMatch != "" && ifMatch != sess.Checksum() {
			return apperr.ErrConflict
		}
		return fn(sess)
	})
	if err != nil {
		return err
	}
	s.committed(opened)
	return nil
}

func (s *Service) committed(sess *session.Session) {
	changes := sess.Changes()
	if len(changes) == 0 {
		return
	}
	logger := s.logger.With(slog.String("document", sess.Ref()), slog.String("session_id", sess.ID()))
	if s.journal != nil {
		if err := s.journal.RecordChanges(sess.Ref(), sess.ID(), changes); err != nil {
			logger.Warn("journal: record changes failed", slog.String("error", err.Error()))
		}
		if sess.Saved() {
			if err := s.journal.RecordSave(sess.Ref(), sess.ID(), sess.Checksum()); err != nil {
				logger.Warn("journal: record save failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.events != nil {
		for _, c := range changeViews(changes, sess.ID()) {
			s.events.Publish(sse.Event{
				Type:     "annotation." + c.Kind,
				Data:     map[string]string{"document": sess.Ref(), "before": c.Before, "after": c.After},
				Document: sess.Ref(),
			})
		}
	}
	logger.Info("changes committed", slog.Int("changes", len(changes)), slog.Bool("saved", sess.Saved()))
}

// checkPrefix accepts the prefixes of annotations that carry an id.
func checkPrefix(prefix string) error {
	switch prefix {
	case annotation.PrefixTextBound, annotation.PrefixEvent, annotation.PrefixModifier,
		annotation.PrefixAttribute, annotation.PrefixNote:
		return nil
	}
	return fmt.Errorf("%w: unsupported prefix %q", apperr.ErrInvalidID, prefix)
}
