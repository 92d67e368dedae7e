package store

import (
	"strings"
	"time"

	"crmgrid/pkg/domain"
)

// Store defines persistence operations for projects, columns, records and
// attachment metadata. Implemented by GormStore (Postgres) and MemoryStore.
type Store interface {
	// projects
	CreateProject(p domain.Project) error
	ListProjects() ([]domain.Project, error)
	GetProject(id string) (domain.Project, bool, error)
	DeleteProject(id string) error

	// columns
	ListColumns(projectID string) ([]domain.Column, error)
	AddColumn(projectID, name string, colType domain.ColumnType, insertAfter string) (domain.Column, error)
	DeleteColumn(projectID, columnID string) error

	// records
	ListRecords(projectID, search string) ([]domain.Record, error)
	GetRecord(id string) (domain.Record, bool, error)
	CreateRecord(rec domain.Record) error
	UpdateRecord(id string, patch domain.RecordPatch) (domain.Record, error)
	DeleteRecord(id string) error

	// attachments
	AddAttachment(att domain.Attachment) error
	GetAttachment(id string) (domain.Attachment, bool, error)
	GetAttachmentByStoredName(storedName string) (domain.Attachment, bool, error)
	ListAttachments(recordID string) ([]domain.Attachment, error)
	ListProjectAttachments(projectID string) ([]domain.Attachment, error)
	DeleteAttachment(id string) error

	// Stats returns aggregate counts; todayStart bounds the "created today"
	// count.
	Stats(todayStart time.Time) (domain.Stats, error)

	// Transaction runs fn against a store whose writes are discarded when fn
	// returns an error. Used by the import engine for batch atomicity.
	Transaction(fn func(Store) error) error
}

// matchesSearch reports whether a record matches the search term: the
// lowercase concatenation of payload values, notes and tags must contain the
// term as a substring. Terms are trimmed and lowercased by the caller.
func matchesSearch(rec domain.Record, term string) bool {
	if term == "" {
		return true
	}
	var sb strings.Builder
	for _, v := range rec.Payload {
		sb.WriteString(v)
		sb.WriteByte(' ')
	}
	sb.WriteString(rec.Notes)
	sb.WriteByte(' ')
	sb.WriteString(rec.Tags)
	return strings.Contains(strings.ToLower(sb.String()), term)
}

func normalizeSearch(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
