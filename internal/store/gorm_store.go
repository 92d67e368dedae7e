package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ProjectModel{}, &ColumnModel{}, &RecordModel{}, &AttachmentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Transaction runs fn against a transaction-scoped store.
func (s *GormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// CreateProject inserts a project.
func (s *GormStore) CreateProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Create(&model).Error
}

// ListProjects returns all projects in creation order.
func (s *GormStore) ListProjects() ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// GetProject returns a project by ID.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// DeleteProject removes the project and cascades to its columns, records and
// attachment rows in one transaction. Blob cleanup is the caller's concern.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ProjectModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: project %s", domain.ErrNotFound, id)
		}
		if err := tx.Where("record_id IN (?)",
			tx.Model(&RecordModel{}).Select("id").Where("project_id = ?", id),
		).Delete(&AttachmentModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&RecordModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ColumnModel{}, "project_id = ?", id).Error
	})
}

// ListColumns returns the project's columns sorted by order key ascending.
func (s *GormStore) ListColumns(projectID string) ([]domain.Column, error) {
	var models []ColumnModel
	if err := s.db.Where("project_id = ?", projectID).Order("col_order ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Column, 0, len(models))
	for _, m := range models {
		res = append(res, columnFromModel(m))
	}
	return res, nil
}

// AddColumn appends a column at max(order)+1, or slots it directly after
// insertAfter by shifting later columns up by one. The shift and insert run in
// one transaction so concurrent inserts cannot produce duplicate order keys.
func (s *GormStore) AddColumn(projectID, name string, colType domain.ColumnType, insertAfter string) (domain.Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Column{}, fmt.Errorf("%w: column name is required", domain.ErrValidation)
	}
	model := ColumnModel{
		ID:        util.NewID(),
		ProjectID: projectID,
		Name:      name,
		ColType:   string(domain.ParseColumnType(string(colType))),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.allocateOrder(tx, projectID, insertAfter)
		if err != nil {
			return err
		}
		model.ColOrder = order
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Column{}, err
	}
	return columnFromModel(model), nil
}

func (s *GormStore) allocateOrder(tx *gorm.DB, projectID, insertAfter string) (int, error) {
	if insertAfter != "" {
		var anchor ColumnModel
		err := tx.Where("project_id = ? AND id = ?", projectID, insertAfter).First(&anchor).Error
		switch {
		case err == nil:
			target := anchor.ColOrder + 1
			if err := tx.Model(&ColumnModel{}).
				Where("project_id = ? AND col_order >= ?", projectID, target).
				Update("col_order", gorm.Expr("col_order + 1")).Error; err != nil {
				return 0, err
			}
			return target, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Unknown anchor falls back to append-at-end.
		default:
			return 0, err
		}
	}
	var maxOrder *int
	if err := tx.Model(&ColumnModel{}).
		Where("project_id = ?", projectID).
		Select("MAX(col_order)").Scan(&maxOrder).Error; err != nil {
		return 0, err
	}
	if maxOrder == nil {
		return 0, nil
	}
	return *maxOrder + 1, nil
}

// DeleteColumn removes the column definition and strips its key from every
// record payload in the project. The payload edits run record-by-record, not
// atomically with the column delete; renderers tolerate orphaned keys.
func (s *GormStore) DeleteColumn(projectID, columnID string) error {
	var col ColumnModel
	if err := s.db.Where("project_id = ? AND id = ?", projectID, columnID).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: column %s", domain.ErrNotFound, columnID)
		}
		return err
	}

	var records []RecordModel
	if err := s.db.Where("project_id = ?", projectID).Find(&records).Error; err != nil {
		return err
	}
	for _, rm := range records {
		payload := decodePayload(rm.Payload)
		if _, ok := payload[columnID]; !ok {
			continue
		}
		delete(payload, columnID)
		updated, err := recordToModel(domain.Record{Payload: payload})
		if err != nil {
			return err
		}
		if err := s.db.Model(&RecordModel{}).
			Where("id = ?", rm.ID).
			UpdateColumn("payload", updated.Payload).Error; err != nil {
			return err
		}
	}
	return s.db.Delete(&ColumnModel{}, "id = ?", columnID).Error
}

// ListRecords returns the project's records newest-created first, optionally
// filtered by a case-insensitive substring search across payload values,
// notes and tags. Matching is a linear scan; there is no index.
func (s *GormStore) ListRecords(projectID, search string) ([]domain.Record, error) {
	var models []RecordModel
	if err := s.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	term := normalizeSearch(search)
	res := make([]domain.Record, 0, len(models))
	for _, m := range models {
		rec := recordFromModel(m)
		if !matchesSearch(rec, term) {
			continue
		}
		res = append(res, rec)
	}
	return res, nil
}

// GetRecord returns a record by ID.
func (s *GormStore) GetRecord(id string) (domain.Record, bool, error) {
	var model RecordModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	return recordFromModel(model), true, nil
}

// CreateRecord inserts a record. Payload keys are accepted without validation
// against current columns.
func (s *GormStore) CreateRecord(rec domain.Record) error {
	model, err := recordToModel(rec)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// UpdateRecord applies a partial update: nil patch fields keep their stored
// value, a non-nil payload replaces the stored payload wholesale.
func (s *GormStore) UpdateRecord(id string, patch domain.RecordPatch) (domain.Record, error) {
	var model RecordModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Record{}, fmt.Errorf("%w: record %s", domain.ErrNotFound, id)
		}
		return domain.Record{}, err
	}
	rec := recordFromModel(model)
	if patch.Payload != nil {
		rec.Payload = patch.Payload
	}
	if patch.Tags != nil {
		rec.Tags = *patch.Tags
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	rec.UpdatedAt = time.Now().UTC()
	updated, err := recordToModel(rec)
	if err != nil {
		return domain.Record{}, err
	}
	if err := s.db.Save(&updated).Error; err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// DeleteRecord removes the record and its attachment rows.
func (s *GormStore) DeleteRecord(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&RecordModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: record %s", domain.ErrNotFound, id)
		}
		return tx.Delete(&AttachmentModel{}, "record_id = ?", id).Error
	})
}

// AddAttachment inserts attachment metadata.
func (s *GormStore) AddAttachment(att domain.Attachment) error {
	model := attachmentToModel(att)
	return s.db.Create(&model).Error
}

// GetAttachment returns attachment metadata by ID.
func (s *GormStore) GetAttachment(id string) (domain.Attachment, bool, error) {
	var model AttachmentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Attachment{}, false, nil
		}
		return domain.Attachment{}, false, err
	}
	return attachmentFromModel(model), true, nil
}

// GetAttachmentByStoredName returns attachment metadata by its stored name.
func (s *GormStore) GetAttachmentByStoredName(storedName string) (domain.Attachment, bool, error) {
	var model AttachmentModel
	if err := s.db.First(&model, "stored_name = ?", storedName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Attachment{}, false, nil
		}
		return domain.Attachment{}, false, err
	}
	return attachmentFromModel(model), true, nil
}

// ListAttachments returns a record's attachments in creation order.
func (s *GormStore) ListAttachments(recordID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	if err := s.db.Where("record_id = ?", recordID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, 0, len(models))
	for _, m := range models {
		res = append(res, attachmentFromModel(m))
	}
	return res, nil
}

// ListProjectAttachments returns every attachment owned by the project's
// records.
func (s *GormStore) ListProjectAttachments(projectID string) ([]domain.Attachment, error) {
	var models []AttachmentModel
	err := s.db.
		Joins("JOIN crm_records ON crm_records.id = attachments.record_id").
		Where("crm_records.project_id = ?", projectID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, 0, len(models))
	for _, m := range models {
		res = append(res, attachmentFromModel(m))
	}
	return res, nil
}

// DeleteAttachment removes attachment metadata.
func (s *GormStore) DeleteAttachment(id string) error {
	res := s.db.Delete(&AttachmentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attachment %s", domain.ErrNotFound, id)
	}
	return nil
}

// Stats returns dashboard aggregate counts.
func (s *GormStore) Stats(todayStart time.Time) (domain.Stats, error) {
	var stats domain.Stats
	if err := s.db.Model(&RecordModel{}).Count(&stats.Records).Error; err != nil {
		return domain.Stats{}, err
	}
	if err := s.db.Model(&ColumnModel{}).Count(&stats.Columns).Error; err != nil {
		return domain.Stats{}, err
	}
	if err := s.db.Model(&AttachmentModel{}).Count(&stats.Attachments).Error; err != nil {
		return domain.Stats{}, err
	}
	if err := s.db.Model(&RecordModel{}).Where("created_at >= ?", todayStart).Count(&stats.Today).Error; err != nil {
		return domain.Stats{}, err
	}
	return stats, nil
}
