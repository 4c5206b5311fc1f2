package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/telecaller/internal/session"
)

func sampleSession(t *testing.T, id string) session.Session {
	t.Helper()
	store := session.NewStore(session.Config{})
	store.GetOrCreate(id)
	err := store.Update(id, func(s *session.Session) {
		s.AppendMessage(session.RoleAssistant, "Hello", nil, time.Now())
		s.AppendMessage(session.RoleUser, "What's a good cap rate?", nil, time.Now())
		s.Intent = session.IntentInvesting
		s.Status = session.StatusCompleted
		s.TotalInteractions = 1
	})
	if err != nil {
		t.Fatal(err)
	}
	sess, _ := store.Get(id)
	return sess
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	rec := FromSession(sampleSession(t, "CA1"), "completed", time.Now())
	if err := fs.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "conversation_history_CA1.json")); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}

	got, err := fs.Load(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != rec.ID || got.Intent != "investing" || len(got.History) != 2 || got.History[1].SequenceID != "CA1_1" {
		t.Errorf("loaded %+v", got)
	}
}

func TestFileStoreErrors(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	if _, err := fs.Load(context.Background(), "CA404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
	if err := fs.Save(context.Background(), Record{CallID: "../etc"}); err == nil {
		t.Error("path traversal accepted")
	}
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]Record
	fail  bool
	block chan struct{}
}

func (m *memStore) Save(_ context.Context, rec Record) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.saved[rec.CallID] = rec
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.saved[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Close() error { return nil }

func TestWriterFlushesOnClose(t *testing.T) {
	ms := &memStore{saved: map[string]Record{}}
	w := NewWriter(ms, 8)
	for _, id := range []string{"CA1", "CA2", "CA3"} {
		w.Submit(Record{CallID: id})
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if len(ms.saved) != 3 {
		t.Errorf("saved %d records, want 3", len(ms.saved))
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	ms := &memStore{saved: map[string]Record{}, block: make(chan struct{})}
	w := NewWriter(ms, 1)
	w.Submit(Record{CallID: "CA1"}) // picked up by drain, blocks in Save
	time.Sleep(20 * time.Millisecond)
	w.Submit(Record{CallID: "CA2"}) // buffered
	w.Submit(Record{CallID: "CA3"}) // dropped
	close(ms.block)
	w.Close()

	if _, ok := ms.saved["CA3"]; ok {
		t.Error("record saved despite full buffer")
	}
	if len(ms.saved) != 2 {
		t.Errorf("saved = %d", len(ms.saved))
	}
}

func TestWriterSubmitAfterClose(t *testing.T) {
	ms := &memStore{saved: map[string]Record{}}
	w := NewWriter(ms, 8)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, id := range []string{"CA1", "CA2", "CA3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Submit(Record{CallID: id})
		}()
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if len(ms.saved) != 0 {
		t.Errorf("saved %d records after close", len(ms.saved))
	}
}

func TestWriterNilSafe(t *testing.T) {
	var w *Writer
	w.Submit(Record{CallID: "CA1"})
	if _, err := w.Load(context.Background(), "CA1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("nil Load err = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}
}

func TestWriterSurvivesStoreErrors(t *testing.T) {
	ms := &memStore{saved: map[string]Record{}, fail: true}
	w := NewWriter(ms, 4)
	w.Submit(Record{CallID: "CA1"})
	w.Submit(Record{CallID: "CA2"})
	w.Close()
	if len(ms.saved) != 0 {
		t.Error("failing store saved records")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := OpenPostgres(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer pg.Close()

	rec := FromSession(sampleSession(t, "CA-pg-test"), "completed", time.Now())
	if err := pg.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.Reason = "saved twice"
	if err := pg.Save(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := pg.Load(ctx, "CA-pg-test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Reason != "saved twice" || len(got.History) != 2 {
		t.Errorf("loaded %+v", got)
	}
	if _, err := pg.Load(ctx, "CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}
