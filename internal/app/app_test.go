package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crmgrid/internal/store"
	"crmgrid/pkg/domain"
	"crmgrid/pkg/storage"
)

type fixture struct {
	app   *App
	store *store.MemoryStore
	blobs *storage.MemoryBlobStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		blobs: storage.NewMemoryBlobStore(),
	}
	f.app = New(Config{Store: f.store, Blobs: f.blobs})
	return f
}

func (f *fixture) project(t *testing.T) domain.Project {
	t.Helper()
	p, err := f.app.CreateProject("Pipeline", "#3b82f6")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestCreateProjectRejectsBlankName(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.CreateProject("  ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRecordUnknownProject(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.CreateRecord("ghost", nil, "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddAttachmentRejectsDisallowedExtension(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	rec, err := f.app.CreateRecord(p.ID, nil, "", "")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	_, err = f.app.AddAttachment(context.Background(), rec.ID, "virus.exe", strings.NewReader("mz"), 2)
	if !errors.Is(err, domain.ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatal("rejected upload must not leave a blob behind")
	}
}

func TestAddAttachmentStoresBlobAndMetadata(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	rec, _ := f.app.CreateRecord(p.ID, nil, "", "")

	att, err := f.app.AddAttachment(context.Background(), rec.ID, "photo.PNG", strings.NewReader("pngbytes"), 8)
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	if att.Kind != domain.KindImage {
		t.Fatalf("kind = %s, want image", att.Kind)
	}
	if att.OriginalName != "photo.PNG" {
		t.Fatalf("original name = %q", att.OriginalName)
	}
	if att.StoredName == "photo.PNG" || !strings.HasSuffix(att.StoredName, ".png") {
		t.Fatalf("stored name must be generated with the extension kept, got %q", att.StoredName)
	}
	if att.SizeBytes != 8 {
		t.Fatalf("size = %d, want 8", att.SizeBytes)
	}
	if f.blobs.Len() != 1 {
		t.Fatalf("blob count = %d, want 1", f.blobs.Len())
	}
	opened, rc, err := f.app.OpenBlob(context.Background(), att.StoredName)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	rc.Close()
	if opened.OriginalName != "photo.PNG" {
		t.Fatalf("opened metadata = %+v", opened)
	}
}

// brokenDeleteBlobs fails every Delete so blob cleanup errors can be observed
// to be swallowed.
type brokenDeleteBlobs struct {
	*storage.MemoryBlobStore
}

func (b *brokenDeleteBlobs) Delete(context.Context, string) error {
	return errors.New("backend unreachable")
}

func TestDeleteAttachmentSurvivesBlobFailure(t *testing.T) {
	mem := storage.NewMemoryBlobStore()
	st := store.NewMemoryStore()
	a := New(Config{Store: st, Blobs: &brokenDeleteBlobs{mem}})

	p, _ := a.CreateProject("P", "")
	rec, _ := a.CreateRecord(p.ID, nil, "", "")
	att, err := a.AddAttachment(context.Background(), rec.ID, "doc.pdf", strings.NewReader("%PDF"), 4)
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}

	if err := a.DeleteAttachment(context.Background(), att.ID); err != nil {
		t.Fatalf("delete must succeed despite blob failure: %v", err)
	}
	if _, ok, _ := st.GetAttachment(att.ID); ok {
		t.Fatal("metadata row must be gone")
	}
}

func TestDeleteRecordCleansBlobs(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	rec, _ := f.app.CreateRecord(p.ID, nil, "", "")
	if _, err := f.app.AddAttachment(context.Background(), rec.ID, "clip.mp4", strings.NewReader("vid"), 3); err != nil {
		t.Fatalf("add attachment: %v", err)
	}

	if err := f.app.DeleteRecord(context.Background(), rec.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blobs left behind: %d", f.blobs.Len())
	}
}

func TestDeleteProjectCleansBlobs(t *testing.T) {
	f := newFixture(t)
	p := f.project(t)
	rec, _ := f.app.CreateRecord(p.ID, nil, "", "")
	f.app.AddAttachment(context.Background(), rec.ID, "a.txt", strings.NewReader("x"), 1)
	f.app.AddAttachment(context.Background(), rec.ID, "b.csv", strings.NewReader("y"), 1)

	if err := f.app.DeleteProject(context.Background(), p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blobs left behind: %d", f.blobs.Len())
	}
}

func TestStatsUsesUTCMidnight(t *testing.T) {
	st := store.NewMemoryStore()
	clock := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	a := New(Config{Store: st, Blobs: storage.NewMemoryBlobStore(), Now: func() time.Time { return clock }})

	p, _ := a.CreateProject("P", "")
	st.CreateRecord(domain.Record{ID: "old", ProjectID: p.ID, CreatedAt: clock.AddDate(0, 0, -1)})
	a.CreateRecord(p.ID, nil, "", "")

	stats, err := a.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 2 {
		t.Fatalf("records = %d, want 2", stats.Records)
	}
	if stats.Today != 1 {
		t.Fatalf("today = %d, want 1", stats.Today)
	}
}

func TestEnsureDefaultsSeedsOnce(t *testing.T) {
	f := newFixture(t)
	if err := f.app.EnsureDefaults(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	projects, _ := f.app.ListProjects()
	if len(projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(projects))
	}
	cols, _ := f.app.ListColumns(projects[0].ID)
	if len(cols) != len(defaultColumns) {
		t.Fatalf("columns = %d, want %d", len(cols), len(defaultColumns))
	}

	if err := f.app.EnsureDefaults(); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	projects, _ = f.app.ListProjects()
	if len(projects) != 1 {
		t.Fatal("seeding must be idempotent")
	}
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0.0 B"},
		{512, "512.0 B"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{5 << 30, "5.0 GB"},
		{3 << 40, "3.0 TB"},
	}
	for _, tc := range cases {
		if got := HumanSize(tc.in); got != tc.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
