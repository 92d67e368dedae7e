// Package app owns the business flows behind the dashboard: project and
// record lifecycle, attachment handling, import/export and seeding. Handlers
// stay thin; everything that touches more than one store lives here.
package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmgrid/internal/store"
	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
	"crmgrid/pkg/storage"
)

// allowedExtensions is the upload allowlist, lowercase without the dot.
var allowedExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
	"pdf": true,
	"mp4": true, "mov": true, "avi": true, "mkv": true,
	"xlsx": true, "xls": true, "docx": true, "txt": true, "csv": true,
}

// App wires the relational store and the blob store together.
type App struct {
	store store.Store
	blobs storage.BlobStore
	now   func() time.Time
}

// Config collects App dependencies.
type Config struct {
	Store store.Store
	Blobs storage.BlobStore
	// Now overrides the clock in tests; defaults to time.Now.
	Now func() time.Time
}

// New builds an App from its dependencies.
func New(cfg Config) *App {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{store: cfg.Store, blobs: cfg.Blobs, now: now}
}

// Store exposes the underlying relational store for read-only handler paths.
func (a *App) Store() store.Store { return a.store }

// CreateProject validates the name and stores a new project.
func (a *App) CreateProject(name, color string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: project name is required", domain.ErrValidation)
	}
	p := domain.Project{
		ID:        util.NewID(),
		Name:      name,
		Color:     strings.TrimSpace(color),
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateProject(p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns every project.
func (a *App) ListProjects() ([]domain.Project, error) {
	return a.store.ListProjects()
}

// DeleteProject removes the project, its rows and its blobs. Blob deletion is
// best effort: a missing or unreachable blob never blocks the row cascade.
func (a *App) DeleteProject(ctx context.Context, id string) error {
	atts, err := a.store.ListProjectAttachments(id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteProject(id); err != nil {
		return err
	}
	for _, att := range atts {
		if err := a.blobs.Delete(ctx, att.StoredName); err != nil {
			slog.Warn("blob cleanup failed", "stored_name", att.StoredName, "error", err)
		}
	}
	return nil
}

// ListColumns returns the project's columns in display order.
func (a *App) ListColumns(projectID string) ([]domain.Column, error) {
	if err := a.requireProject(projectID); err != nil {
		return nil, err
	}
	return a.store.ListColumns(projectID)
}

// AddColumn creates a column, optionally slotted directly after another one.
func (a *App) AddColumn(projectID, name, colType, insertAfter string) (domain.Column, error) {
	if err := a.requireProject(projectID); err != nil {
		return domain.Column{}, err
	}
	return a.store.AddColumn(projectID, name, domain.ParseColumnType(colType), insertAfter)
}

// DeleteColumn removes a column and strips its key from every record payload.
func (a *App) DeleteColumn(projectID, columnID string) error {
	return a.store.DeleteColumn(projectID, columnID)
}

// ListRecords returns the project's records newest first, optionally filtered
// by a case-insensitive substring search.
func (a *App) ListRecords(projectID, search string) ([]domain.Record, error) {
	if err := a.requireProject(projectID); err != nil {
		return nil, err
	}
	return a.store.ListRecords(projectID, search)
}

// CreateRecord stores a new record under the project.
func (a *App) CreateRecord(projectID string, payload map[string]string, tags, notes string) (domain.Record, error) {
	if err := a.requireProject(projectID); err != nil {
		return domain.Record{}, err
	}
	if payload == nil {
		payload = map[string]string{}
	}
	now := a.now().UTC()
	rec := domain.Record{
		ID:        util.NewID(),
		ProjectID: projectID,
		Payload:   payload,
		Tags:      tags,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateRecord(rec); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// GetRecord returns one record with its attachments.
func (a *App) GetRecord(id string) (domain.Record, []domain.Attachment, error) {
	rec, ok, err := a.store.GetRecord(id)
	if err != nil {
		return domain.Record{}, nil, err
	}
	if !ok {
		return domain.Record{}, nil, fmt.Errorf("%w: record %s", domain.ErrNotFound, id)
	}
	atts, err := a.store.ListAttachments(id)
	if err != nil {
		return domain.Record{}, nil, err
	}
	return rec, atts, nil
}

// UpdateRecord applies a partial update and returns the stored result.
func (a *App) UpdateRecord(id string, patch domain.RecordPatch) (domain.Record, error) {
	return a.store.UpdateRecord(id, patch)
}

// DeleteRecord removes the record, its attachment rows and their blobs.
func (a *App) DeleteRecord(ctx context.Context, id string) error {
	atts, err := a.store.ListAttachments(id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteRecord(id); err != nil {
		return err
	}
	for _, att := range atts {
		if err := a.blobs.Delete(ctx, att.StoredName); err != nil {
			slog.Warn("blob cleanup failed", "stored_name", att.StoredName, "error", err)
		}
	}
	return nil
}

// AddAttachment stores the upload's bytes and metadata. The stored name is
// system generated; the original name survives only as display metadata.
// declaredSize may be -1 when the caller does not know the length upfront.
func (a *App) AddAttachment(ctx context.Context, recordID, originalName string, r io.Reader, declaredSize int64) (domain.Attachment, error) {
	if _, ok, err := a.store.GetRecord(recordID); err != nil {
		return domain.Attachment{}, err
	} else if !ok {
		return domain.Attachment{}, fmt.Errorf("%w: record %s", domain.ErrNotFound, recordID)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if !allowedExtensions[ext] {
		return domain.Attachment{}, fmt.Errorf("%w: .%s uploads are not accepted", domain.ErrUnsupportedType, ext)
	}

	stored := newStoredName(ext)
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.blobs.Put(ctx, stored, r, declaredSize, contentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store blob: %w", err)
	}

	size, err := a.blobs.Size(ctx, stored)
	if err != nil || size < 0 {
		size = declaredSize
	}

	att := domain.Attachment{
		ID:           util.NewID(),
		RecordID:     recordID,
		StoredName:   stored,
		OriginalName: originalName,
		Kind:         classifyExtension(ext),
		SizeBytes:    size,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.AddAttachment(att); err != nil {
		// Remove the blob so orphaned bytes don't pile up.
		if derr := a.blobs.Delete(ctx, stored); derr != nil {
			slog.Warn("orphan blob cleanup failed", "stored_name", stored, "error", derr)
		}
		return domain.Attachment{}, err
	}
	return att, nil
}

// DeleteAttachment removes the metadata row, then the blob best effort.
func (a *App) DeleteAttachment(ctx context.Context, id string) error {
	att, ok, err := a.store.GetAttachment(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: attachment %s", domain.ErrNotFound, id)
	}
	if err := a.store.DeleteAttachment(id); err != nil {
		return err
	}
	if err := a.blobs.Delete(ctx, att.StoredName); err != nil {
		slog.Warn("blob delete failed", "stored_name", att.StoredName, "error", err)
	}
	return nil
}

// OpenBlob streams a stored blob by its stored name, returning the metadata
// row alongside so callers can expose the original filename.
func (a *App) OpenBlob(ctx context.Context, storedName string) (domain.Attachment, io.ReadCloser, error) {
	att, ok, err := a.store.GetAttachmentByStoredName(storedName)
	if err != nil {
		return domain.Attachment{}, nil, err
	}
	if !ok {
		return domain.Attachment{}, nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, storedName)
	}
	rc, err := a.blobs.Open(ctx, storedName)
	if err != nil {
		return domain.Attachment{}, nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, storedName)
	}
	return att, rc, nil
}

// Stats returns dashboard counts; "today" is measured from UTC midnight.
func (a *App) Stats() (domain.Stats, error) {
	return a.store.Stats(a.now().UTC().Truncate(24 * time.Hour))
}

func (a *App) requireProject(id string) error {
	_, ok, err := a.store.GetProject(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: project %s", domain.ErrNotFound, id)
	}
	return nil
}

func newStoredName(ext string) string {
	u := uuid.New()
	return hex.EncodeToString(u[:]) + "." + ext
}

func classifyExtension(ext string) domain.FileKind {
	switch ext {
	case "png", "jpg", "jpeg", "gif", "webp":
		return domain.KindImage
	case "pdf":
		return domain.KindPDF
	case "mp4", "mov", "avi", "mkv", "webm":
		return domain.KindVideo
	default:
		return domain.KindFile
	}
}

// HumanSize renders a byte count as a one-decimal figure in the largest unit
// below 1024, from B through TB.
func HumanSize(n int64) string {
	const unit = 1024.0
	size := float64(n)
	for _, suffix := range []string{"B", "KB", "MB", "GB"} {
		if size < unit {
			return fmt.Sprintf("%.1f %s", size, suffix)
		}
		size /= unit
	}
	return fmt.Sprintf("%.1f TB", size)
}

// defaultColumns seeds a fresh installation with a usable grid.
var defaultColumns = []struct {
	name    string
	colType domain.ColumnType
}{
	{"Client Name", domain.ColumnText},
	{"Location", domain.ColumnText},
	{"PO Number", domain.ColumnText},
	{"Item Code", domain.ColumnText},
	{"Size", domain.ColumnText},
	{"Type", domain.ColumnText},
	{"Material", domain.ColumnText},
	{"Diameter", domain.ColumnText},
	{"Quantity", domain.ColumnNumber},
	{"Date", domain.ColumnDate},
	{"Remarks", domain.ColumnText},
}

// EnsureDefaults creates the default project and its starter columns when the
// registry is empty. Safe to call on every boot.
func (a *App) EnsureDefaults() error {
	projects, err := a.store.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return nil
	}
	p, err := a.CreateProject("Main", "")
	if err != nil {
		return err
	}
	for _, c := range defaultColumns {
		if _, err := a.store.AddColumn(p.ID, c.name, c.colType, ""); err != nil {
			return err
		}
	}
	slog.Info("seeded default project", "project_id", p.ID, "columns", len(defaultColumns))
	return nil
}
