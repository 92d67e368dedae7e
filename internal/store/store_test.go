package store

import (
	"errors"
	"testing"
	"time"

	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
)

func newTestProject(t *testing.T, m *MemoryStore) domain.Project {
	t.Helper()
	p := domain.Project{ID: util.NewID(), Name: "Tracker", CreatedAt: time.Now().UTC()}
	if err := m.CreateProject(p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func newTestRecord(t *testing.T, m *MemoryStore, projectID string, payload map[string]string) domain.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := domain.Record{
		ID:        util.NewID(),
		ProjectID: projectID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.CreateRecord(rec); err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

func columnNames(cols []domain.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func TestAddColumnAppendsAtEnd(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)

	first, err := m.AddColumn(p.ID, "Name", domain.ColumnText, "")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if first.Order != 0 {
		t.Fatalf("first column order = %d, want 0", first.Order)
	}
	second, err := m.AddColumn(p.ID, "Qty", domain.ColumnNumber, "")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if second.Order != 1 {
		t.Fatalf("second column order = %d, want 1", second.Order)
	}
}

func TestAddColumnInsertAfterShiftsLaterColumns(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)

	a, _ := m.AddColumn(p.ID, "A", domain.ColumnText, "")
	m.AddColumn(p.ID, "B", domain.ColumnText, "")
	m.AddColumn(p.ID, "C", domain.ColumnText, "")

	// Insert directly after A regardless of how many columns follow.
	if _, err := m.AddColumn(p.ID, "A2", domain.ColumnText, a.ID); err != nil {
		t.Fatalf("insert after: %v", err)
	}
	cols, err := m.ListColumns(p.ID)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	want := []string{"A", "A2", "B", "C"}
	got := columnNames(cols)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column order = %v, want %v", got, want)
		}
	}
	// Order keys stay unique.
	seen := map[int]bool{}
	for _, c := range cols {
		if seen[c.Order] {
			t.Fatalf("duplicate order key %d", c.Order)
		}
		seen[c.Order] = true
	}
}

func TestAddColumnUnknownAnchorFallsBackToAppend(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	m.AddColumn(p.ID, "A", domain.ColumnText, "")

	col, err := m.AddColumn(p.ID, "B", domain.ColumnText, "no-such-column")
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	if col.Order != 1 {
		t.Fatalf("fallback order = %d, want append at 1", col.Order)
	}
}

func TestAddColumnRejectsBlankName(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	if _, err := m.AddColumn(p.ID, "   ", domain.ColumnText, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteColumnStripsOnlyItsKey(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	name, _ := m.AddColumn(p.ID, "Name", domain.ColumnText, "")
	qty, _ := m.AddColumn(p.ID, "Qty", domain.ColumnNumber, "")
	rec := newTestRecord(t, m, p.ID, map[string]string{name.ID: "Acme", qty.ID: "5"})

	if err := m.DeleteColumn(p.ID, qty.ID); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	got, ok, err := m.GetRecord(rec.ID)
	if err != nil || !ok {
		t.Fatalf("get record: ok=%v err=%v", ok, err)
	}
	if _, has := got.Payload[qty.ID]; has {
		t.Fatal("deleted column key should be stripped from payload")
	}
	if got.Payload[name.ID] != "Acme" {
		t.Fatalf("other keys must be untouched, payload=%v", got.Payload)
	}
}

func TestDeleteColumnUnknownID(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	if err := m.DeleteColumn(p.ID, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateThenGetRecordReturnsSamePayload(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	payload := map[string]string{"c1": "Acme Corp", "c2": "42"}
	rec := newTestRecord(t, m, p.ID, payload)

	got, ok, err := m.GetRecord(rec.ID)
	if err != nil || !ok {
		t.Fatalf("get record: ok=%v err=%v", ok, err)
	}
	if len(got.Payload) != len(payload) {
		t.Fatalf("payload key count = %d, want %d", len(got.Payload), len(payload))
	}
	for k, v := range payload {
		if got.Payload[k] != v {
			t.Fatalf("payload[%s] = %q, want %q", k, got.Payload[k], v)
		}
	}
}

func TestUpdateRecordTagsOnlyKeepsPayloadAndNotes(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	rec := newTestRecord(t, m, p.ID, map[string]string{"c1": "v1"})
	notes := "original notes"
	if _, err := m.UpdateRecord(rec.ID, domain.RecordPatch{Notes: &notes}); err != nil {
		t.Fatalf("seed notes: %v", err)
	}

	tags := "vip, lead"
	updated, err := m.UpdateRecord(rec.ID, domain.RecordPatch{Tags: &tags})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Tags != tags {
		t.Fatalf("tags = %q, want %q", updated.Tags, tags)
	}
	if updated.Notes != notes {
		t.Fatalf("notes changed to %q", updated.Notes)
	}
	if updated.Payload["c1"] != "v1" {
		t.Fatalf("payload changed to %v", updated.Payload)
	}
}

func TestUpdateRecordReplacesPayloadWholesale(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	rec := newTestRecord(t, m, p.ID, map[string]string{"c1": "v1", "c2": "v2"})

	updated, err := m.UpdateRecord(rec.ID, domain.RecordPatch{Payload: map[string]string{"c3": "v3"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Payload) != 1 || updated.Payload["c3"] != "v3" {
		t.Fatalf("payload should be replaced wholesale, got %v", updated.Payload)
	}
}

func TestUpdateRecordNotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.UpdateRecord("missing", domain.RecordPatch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	newTestRecord(t, m, p.ID, map[string]string{"c1": "Acme Corp"})
	other := newTestRecord(t, m, p.ID, map[string]string{"c1": "Globex"})
	tagged := newTestRecord(t, m, p.ID, nil)
	tags := "priority, Corporate"
	if _, err := m.UpdateRecord(tagged.ID, domain.RecordPatch{Tags: &tags}); err != nil {
		t.Fatalf("tag record: %v", err)
	}

	res, err := m.ListRecords(p.ID, "corp")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("search hits = %d, want 2 (payload + tags match)", len(res))
	}
	for _, r := range res {
		if r.ID == other.ID {
			t.Fatal("non-matching record returned")
		}
	}
}

func TestListRecordsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := domain.Record{ID: "r-old", ProjectID: p.ID, CreatedAt: base, UpdatedAt: base}
	fresh := domain.Record{ID: "r-new", ProjectID: p.ID, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)}
	m.CreateRecord(old)
	m.CreateRecord(fresh)

	res, err := m.ListRecords(p.ID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res) != 2 || res[0].ID != "r-new" || res[1].ID != "r-old" {
		t.Fatalf("expected newest first, got %v then %v", res[0].ID, res[1].ID)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	col, _ := m.AddColumn(p.ID, "Name", domain.ColumnText, "")
	rec := newTestRecord(t, m, p.ID, map[string]string{col.ID: "x"})
	att := domain.Attachment{ID: util.NewID(), RecordID: rec.ID, StoredName: "abc.png", Kind: domain.KindImage, CreatedAt: time.Now().UTC()}
	if err := m.AddAttachment(att); err != nil {
		t.Fatalf("add attachment: %v", err)
	}

	if err := m.DeleteProject(p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if cols, _ := m.ListColumns(p.ID); len(cols) != 0 {
		t.Fatalf("columns not cascaded: %v", cols)
	}
	if recs, _ := m.ListRecords(p.ID, ""); len(recs) != 0 {
		t.Fatalf("records not cascaded: %v", recs)
	}
	if atts, _ := m.ListProjectAttachments(p.ID); len(atts) != 0 {
		t.Fatalf("attachments not cascaded: %v", atts)
	}
}

func TestDeleteRecordRemovesAttachmentRows(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	rec := newTestRecord(t, m, p.ID, nil)
	att := domain.Attachment{ID: util.NewID(), RecordID: rec.ID, StoredName: "f.pdf", Kind: domain.KindPDF, CreatedAt: time.Now().UTC()}
	m.AddAttachment(att)

	if err := m.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if _, ok, _ := m.GetAttachment(att.ID); ok {
		t.Fatal("attachment row should be gone with its record")
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)

	boom := errors.New("boom")
	err := m.Transaction(func(tx Store) error {
		if _, err := tx.AddColumn(p.ID, "Temp", domain.ColumnText, ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	cols, _ := m.ListColumns(p.ID)
	if len(cols) != 0 {
		t.Fatalf("rolled-back column persisted: %v", cols)
	}
}

func TestTransactionCommitKeepsWrites(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)

	err := m.Transaction(func(tx Store) error {
		_, err := tx.AddColumn(p.ID, "Kept", domain.ColumnText, "")
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	cols, _ := m.ListColumns(p.ID)
	if len(cols) != 1 || cols[0].Name != "Kept" {
		t.Fatalf("committed column missing: %v", cols)
	}
}

func TestStatsCountsToday(t *testing.T) {
	m := NewMemoryStore()
	p := newTestProject(t, m)
	col, _ := m.AddColumn(p.ID, "Name", domain.ColumnText, "")

	todayStart := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	m.CreateRecord(domain.Record{ID: "r1", ProjectID: p.ID, CreatedAt: todayStart.Add(-time.Hour)})
	m.CreateRecord(domain.Record{ID: "r2", ProjectID: p.ID, CreatedAt: todayStart.Add(time.Hour)})
	m.AddAttachment(domain.Attachment{ID: "a1", RecordID: "r2", StoredName: "s.png", CreatedAt: todayStart})

	stats, err := m.Stats(todayStart)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 2 || stats.Columns != 1 || stats.Attachments != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.Today != 1 {
		t.Fatalf("today = %d, want 1 (only r2 counts); col=%v", stats.Today, col.ID)
	}
}
