package domain

import (
	"strings"
	"time"
)

// ColumnType is the declared input type of a column. Values are stored as
// strings regardless of type; the type is a rendering hint for clients.
type ColumnType string

const (
	ColumnText   ColumnType = "text"
	ColumnNumber ColumnType = "number"
	ColumnEmail  ColumnType = "email"
	ColumnPhone  ColumnType = "phone"
	ColumnDate   ColumnType = "date"
	ColumnURL    ColumnType = "url"
)

// ParseColumnType maps a raw string onto a known column type, defaulting to text.
func ParseColumnType(raw string) ColumnType {
	switch ColumnType(strings.ToLower(strings.TrimSpace(raw))) {
	case ColumnNumber:
		return ColumnNumber
	case ColumnEmail:
		return ColumnEmail
	case ColumnPhone:
		return ColumnPhone
	case ColumnDate:
		return ColumnDate
	case ColumnURL:
		return ColumnURL
	default:
		return ColumnText
	}
}

// FileKind classifies an attachment by its extension.
type FileKind string

const (
	KindImage FileKind = "image"
	KindPDF   FileKind = "pdf"
	KindVideo FileKind = "video"
	KindFile  FileKind = "file"
)

// Project is an isolated namespace of columns and records.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Column is a user-defined field definition. Order keys are unique within a
// project and define left-to-right display order.
type Column struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Name      string     `json:"name"`
	Type      ColumnType `json:"colType"`
	Order     int        `json:"colOrder"`
}

// Record holds a dynamic payload keyed by column id. Payload keys may
// reference columns that no longer exist; renderers skip unknown keys.
type Record struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	Payload   map[string]string `json:"data"`
	Tags      string            `json:"tags"`
	Notes     string            `json:"notes"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// RecordPatch is a partial record update. Nil fields keep their stored value;
// a non-nil Payload replaces the stored payload wholesale.
type RecordPatch struct {
	Payload map[string]string
	Tags    *string
	Notes   *string
}

// Attachment is file metadata for one record. StoredName is system-generated
// and unique; OriginalName is cosmetic only and never used in paths.
type Attachment struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"recordId"`
	StoredName   string    `json:"storedName"`
	OriginalName string    `json:"originalName"`
	Kind         FileKind  `json:"fileKind"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Stats are dashboard aggregate counts.
type Stats struct {
	Records     int64 `json:"records"`
	Columns     int64 `json:"columns"`
	Attachments int64 `json:"attachments"`
	Today       int64 `json:"today"`
}

// ImportResult reports the outcome of one import batch.
type ImportResult struct {
	Inserted int `json:"rows"`
	Columns  int `json:"cols"`
}
