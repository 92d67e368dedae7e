package store

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
)

// MemoryStore keeps everything in process memory. It backs tests and
// throwaway local runs; semantics mirror GormStore.
type MemoryStore struct {
	mu          sync.RWMutex
	projects    map[string]domain.Project
	projectIDs  []string
	columns     map[string]domain.Column
	records     map[string]domain.Record
	recordIDs   []string
	attachments map[string]domain.Attachment
	attachIDs   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]domain.Project),
		columns:     make(map[string]domain.Column),
		records:     make(map[string]domain.Record),
		attachments: make(map[string]domain.Attachment),
	}
}

// Transaction clones the store, runs fn against the clone and adopts the
// clone's state only when fn succeeds.
func (m *MemoryStore) Transaction(fn func(Store) error) error {
	m.mu.Lock()
	scratch := m.cloneLocked()
	m.mu.Unlock()

	if err := fn(scratch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(scratch)
	return nil
}

func (m *MemoryStore) cloneLocked() *MemoryStore {
	clone := NewMemoryStore()
	for id, p := range m.projects {
		clone.projects[id] = p
	}
	clone.projectIDs = append([]string(nil), m.projectIDs...)
	for id, c := range m.columns {
		clone.columns[id] = c
	}
	for id, r := range m.records {
		r.Payload = maps.Clone(r.Payload)
		clone.records[id] = r
	}
	clone.recordIDs = append([]string(nil), m.recordIDs...)
	for id, a := range m.attachments {
		clone.attachments[id] = a
	}
	clone.attachIDs = append([]string(nil), m.attachIDs...)
	return clone
}

func (m *MemoryStore) adoptLocked(other *MemoryStore) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	m.projects = other.projects
	m.projectIDs = other.projectIDs
	m.columns = other.columns
	m.records = other.records
	m.recordIDs = other.recordIDs
	m.attachments = other.attachments
	m.attachIDs = other.attachIDs
}

// CreateProject stores a project and tracks insertion order.
func (m *MemoryStore) CreateProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.projectIDs = append(m.projectIDs, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

// ListProjects returns projects in insertion order.
func (m *MemoryStore) ListProjects() ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.projectIDs))
	for _, id := range m.projectIDs {
		if p, ok := m.projects[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// GetProject returns a project by ID.
func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

// DeleteProject removes the project and everything scoped to it.
func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("%w: project %s", domain.ErrNotFound, id)
	}
	delete(m.projects, id)
	m.projectIDs = removeID(m.projectIDs, id)
	for cid, col := range m.columns {
		if col.ProjectID == id {
			delete(m.columns, cid)
		}
	}
	for rid, rec := range m.records {
		if rec.ProjectID != id {
			continue
		}
		delete(m.records, rid)
		m.recordIDs = removeID(m.recordIDs, rid)
		for aid, att := range m.attachments {
			if att.RecordID == rid {
				delete(m.attachments, aid)
				m.attachIDs = removeID(m.attachIDs, aid)
			}
		}
	}
	return nil
}

// ListColumns returns the project's columns sorted by order key ascending.
func (m *MemoryStore) ListColumns(projectID string) ([]domain.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listColumnsLocked(projectID), nil
}

func (m *MemoryStore) listColumnsLocked(projectID string) []domain.Column {
	res := make([]domain.Column, 0)
	for _, col := range m.columns {
		if col.ProjectID == projectID {
			res = append(res, col)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Order < res[j].Order })
	return res
}

// AddColumn appends a column at max(order)+1, or slots it directly after
// insertAfter by shifting later columns up by one.
func (m *MemoryStore) AddColumn(projectID, name string, colType domain.ColumnType, insertAfter string) (domain.Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Column{}, fmt.Errorf("%w: column name is required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order := 0
	anchor, hasAnchor := m.columns[insertAfter]
	if insertAfter != "" && hasAnchor && anchor.ProjectID == projectID {
		order = anchor.Order + 1
		for cid, col := range m.columns {
			if col.ProjectID == projectID && col.Order >= order {
				col.Order++
				m.columns[cid] = col
			}
		}
	} else {
		for _, col := range m.columns {
			if col.ProjectID == projectID && col.Order+1 > order {
				order = col.Order + 1
			}
		}
	}

	col := domain.Column{
		ID:        util.NewID(),
		ProjectID: projectID,
		Name:      name,
		Type:      domain.ParseColumnType(string(colType)),
		Order:     order,
	}
	m.columns[col.ID] = col
	return col, nil
}

// DeleteColumn removes the column and strips its key from every record
// payload in the project.
func (m *MemoryStore) DeleteColumn(projectID, columnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.columns[columnID]
	if !ok || col.ProjectID != projectID {
		return fmt.Errorf("%w: column %s", domain.ErrNotFound, columnID)
	}
	delete(m.columns, columnID)
	for rid, rec := range m.records {
		if rec.ProjectID != projectID {
			continue
		}
		if _, has := rec.Payload[columnID]; !has {
			continue
		}
		rec.Payload = maps.Clone(rec.Payload)
		delete(rec.Payload, columnID)
		m.records[rid] = rec
	}
	return nil
}

// ListRecords returns the project's records newest-created first, optionally
// filtered by substring search across payload values, notes and tags.
func (m *MemoryStore) ListRecords(projectID, search string) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	term := normalizeSearch(search)
	res := make([]domain.Record, 0)
	for i := len(m.recordIDs) - 1; i >= 0; i-- {
		rec, ok := m.records[m.recordIDs[i]]
		if !ok || rec.ProjectID != projectID {
			continue
		}
		if !matchesSearch(rec, term) {
			continue
		}
		rec.Payload = maps.Clone(rec.Payload)
		res = append(res, rec)
	}
	// Reverse insertion order already approximates newest-first; a stable
	// sort on the timestamp settles records created in different calls.
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// GetRecord returns a record by ID.
func (m *MemoryStore) GetRecord(id string) (domain.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, false, nil
	}
	rec.Payload = maps.Clone(rec.Payload)
	return rec, true, nil
}

// CreateRecord stores a record and tracks insertion order.
func (m *MemoryStore) CreateRecord(rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Payload == nil {
		rec.Payload = map[string]string{}
	} else {
		rec.Payload = maps.Clone(rec.Payload)
	}
	if _, exists := m.records[rec.ID]; !exists {
		m.recordIDs = append(m.recordIDs, rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

// UpdateRecord applies a partial update; a non-nil payload replaces the
// stored payload wholesale.
func (m *MemoryStore) UpdateRecord(id string, patch domain.RecordPatch) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: record %s", domain.ErrNotFound, id)
	}
	if patch.Payload != nil {
		rec.Payload = maps.Clone(patch.Payload)
	}
	if patch.Tags != nil {
		rec.Tags = *patch.Tags
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	rec.Payload = maps.Clone(rec.Payload)
	return rec, nil
}

// DeleteRecord removes the record and its attachment rows.
func (m *MemoryStore) DeleteRecord(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: record %s", domain.ErrNotFound, id)
	}
	delete(m.records, id)
	m.recordIDs = removeID(m.recordIDs, id)
	for aid, att := range m.attachments {
		if att.RecordID == id {
			delete(m.attachments, aid)
			m.attachIDs = removeID(m.attachIDs, aid)
		}
	}
	return nil
}

// AddAttachment stores attachment metadata.
func (m *MemoryStore) AddAttachment(att domain.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.attachments[att.ID]; !exists {
		m.attachIDs = append(m.attachIDs, att.ID)
	}
	m.attachments[att.ID] = att
	return nil
}

// GetAttachment returns attachment metadata by ID.
func (m *MemoryStore) GetAttachment(id string) (domain.Attachment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	att, ok := m.attachments[id]
	return att, ok, nil
}

// GetAttachmentByStoredName returns attachment metadata by its stored name.
func (m *MemoryStore) GetAttachmentByStoredName(storedName string) (domain.Attachment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, att := range m.attachments {
		if att.StoredName == storedName {
			return att, true, nil
		}
	}
	return domain.Attachment{}, false, nil
}

// ListAttachments returns a record's attachments in creation order.
func (m *MemoryStore) ListAttachments(recordID string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Attachment, 0)
	for _, id := range m.attachIDs {
		if att, ok := m.attachments[id]; ok && att.RecordID == recordID {
			res = append(res, att)
		}
	}
	return res, nil
}

// ListProjectAttachments returns every attachment owned by the project's
// records.
func (m *MemoryStore) ListProjectAttachments(projectID string) ([]domain.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Attachment, 0)
	for _, id := range m.attachIDs {
		att, ok := m.attachments[id]
		if !ok {
			continue
		}
		rec, ok := m.records[att.RecordID]
		if ok && rec.ProjectID == projectID {
			res = append(res, att)
		}
	}
	return res, nil
}

// DeleteAttachment removes attachment metadata.
func (m *MemoryStore) DeleteAttachment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attachments[id]; !ok {
		return fmt.Errorf("%w: attachment %s", domain.ErrNotFound, id)
	}
	delete(m.attachments, id)
	m.attachIDs = removeID(m.attachIDs, id)
	return nil
}

// Stats returns dashboard aggregate counts.
func (m *MemoryStore) Stats(todayStart time.Time) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.Stats{
		Records:     int64(len(m.records)),
		Columns:     int64(len(m.columns)),
		Attachments: int64(len(m.attachments)),
	}
	for _, rec := range m.records {
		if !rec.CreatedAt.Before(todayStart) {
			stats.Today++
		}
	}
	return stats, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
