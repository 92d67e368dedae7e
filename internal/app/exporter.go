package app

import (
	"crmgrid/pkg/sheet"
)

// exportDateLayout is the human-readable creation date in exports.
const exportDateLayout = "02 Jan 2006"

// ExportTable renders the project's records as an xlsx workbook: one header
// column per project column in display order, then Notes, Tags and Created.
func (a *App) ExportTable(projectID string) ([]byte, error) {
	if err := a.requireProject(projectID); err != nil {
		return nil, err
	}
	cols, err := a.store.ListColumns(projectID)
	if err != nil {
		return nil, err
	}
	recs, err := a.store.ListRecords(projectID, "")
	if err != nil {
		return nil, err
	}

	headers := make([]string, 0, len(cols)+3)
	for _, col := range cols {
		headers = append(headers, col.Name)
	}
	headers = append(headers, "Notes", "Tags", "Created")

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := make([]string, 0, len(headers))
		for _, col := range cols {
			row = append(row, rec.Payload[col.ID])
		}
		row = append(row, rec.Notes, rec.Tags, rec.CreatedAt.Format(exportDateLayout))
		rows = append(rows, row)
	}
	return sheet.Write(headers, rows)
}
