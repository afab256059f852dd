package journal

import (
	"os"
	"testing"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/store"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "annostore-journal-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM changes`).Scan(&count); err != nil {
		t.Fatalf("changes table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM saves`).Scan(&count); err != nil {
		t.Fatalf("saves table missing: %v", err)
	}
}

func TestRecordChangesAndHistory(t *testing.T) {
	db := testDB(t)
	t1 := annotation.NewTextBound(annotation.NewID("T", 1), "Protein", 0, 3, "p53")
	m1 := annotation.NewModifier(annotation.NewID("M", 1), "Negation", annotation.NewID("T", 1))

	rec := &store.Recorder{}
	rec.Added(t1)
	rec.Added(m1)
	if err := db.RecordChanges("doc", "s1", rec.Changes()); err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}
	rec.Reset()
	rec.Deleted(m1)
	if err := db.RecordChanges("doc", "s2", rec.Changes()); err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}
	_ = db.RecordChanges("other", "s3", []store.Change{{Kind: store.ChangeAdded, After: t1}})

	hist, err := db.History("doc", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(hist), hist)
	}
	if hist[0].Kind != "deleted" || hist[0].Before != "M1\tNegation T1" || hist[0].After != "" || hist[0].SessionID != "s2" {
		t.Errorf("newest = %+v", hist[0])
	}
	if hist[2].Kind != "added" || hist[2].After != "T1\tProtein 0 3\tp53" {
		t.Errorf("oldest = %+v", hist[2])
	}
	if hist[0].CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	limited, _ := db.History("doc", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}
}

func TestRecordChangesEmpty(t *testing.T) {
	db := testDB(t)
	if err := db.RecordChanges("doc", "s", nil); err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}
	hist, err := db.History("doc", 10)
	if err != nil {
		t.Fatal(err)
	}
	if hist == nil || len(hist) != 0 {
		t.Errorf("want empty non-nil history, got %#v", hist)
	}
}

func TestLastSave(t *testing.T) {
	db := testDB(t)
	s, err := db.LastSave("doc")
	if err != nil || s != nil {
		t.Fatalf("LastSave on empty = %v, %v", s, err)
	}
	_ = db.RecordSave("doc", "s1", "aaa")
	_ = db.RecordSave("doc", "s2", "bbb")
	s, err = db.LastSave("doc")
	if err != nil {
		t.Fatalf("LastSave: %v", err)
	}
	if s.SessionID != "s2" || s.Checksum != "bbb" {
		t.Errorf("last save = %+v", s)
	}
}
