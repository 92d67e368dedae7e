package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"crmgrid/pkg/domain"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Color     string
	CreatedAt time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string { return "crm_projects" }

type ColumnModel struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	ColType   string `gorm:"not null"`
	ColOrder  int    `gorm:"not null"`
}

func (ColumnModel) TableName() string { return "crm_columns" }

type RecordModel struct {
	ID        string         `gorm:"primaryKey"`
	ProjectID string         `gorm:"not null;index"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Tags      string
	Notes     string
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RecordModel) TableName() string { return "crm_records" }

type AttachmentModel struct {
	ID           string    `gorm:"primaryKey"`
	RecordID     string    `gorm:"not null;index"`
	StoredName   string    `gorm:"uniqueIndex;not null"`
	OriginalName string    `gorm:"not null"`
	FileKind     string    `gorm:"not null"`
	SizeBytes    int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (AttachmentModel) TableName() string { return "attachments" }

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{ID: p.ID, Name: p.Name, Color: p.Color, CreatedAt: p.CreatedAt}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{ID: m.ID, Name: m.Name, Color: m.Color, CreatedAt: m.CreatedAt}
}

func columnFromModel(m ColumnModel) domain.Column {
	return domain.Column{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Name:      m.Name,
		Type:      domain.ColumnType(m.ColType),
		Order:     m.ColOrder,
	}
}

func recordToModel(rec domain.Record) (RecordModel, error) {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return RecordModel{}, err
	}
	return RecordModel{
		ID:        rec.ID,
		ProjectID: rec.ProjectID,
		Payload:   datatypes.JSON(raw),
		Tags:      rec.Tags,
		Notes:     rec.Notes,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func recordFromModel(m RecordModel) domain.Record {
	return domain.Record{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Payload:   decodePayload(m.Payload),
		Tags:      m.Tags,
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// decodePayload treats malformed payload JSON as an empty payload so that
// listing and search stay resilient to corrupt rows.
func decodePayload(raw datatypes.JSON) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]string{}
	}
	return out
}

func attachmentToModel(a domain.Attachment) AttachmentModel {
	return AttachmentModel{
		ID:           a.ID,
		RecordID:     a.RecordID,
		StoredName:   a.StoredName,
		OriginalName: a.OriginalName,
		FileKind:     string(a.Kind),
		SizeBytes:    a.SizeBytes,
		CreatedAt:    a.CreatedAt,
	}
}

func attachmentFromModel(m AttachmentModel) domain.Attachment {
	return domain.Attachment{
		ID:           m.ID,
		RecordID:     m.RecordID,
		StoredName:   m.StoredName,
		OriginalName: m.OriginalName,
		Kind:         domain.FileKind(m.FileKind),
		SizeBytes:    m.SizeBytes,
		CreatedAt:    m.CreatedAt,
	}
}
