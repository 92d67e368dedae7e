package app

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"crmgrid/internal/store"
	"crmgrid/internal/util"
	"crmgrid/pkg/domain"
	"crmgrid/pkg/sheet"
)

// unnamedPattern matches auto-generated placeholder headers that spreadsheet
// tools emit for blank cells, e.g. "Unnamed: 3".
var unnamedPattern = regexp.MustCompile(`(?i)^unnamed(:.*)?$`)

// detectHeaders finds the header row in the first three rows of a table.
// Blank and placeholder cells don't count as names. A row with two or more
// usable names wins outright; that keeps a lone title string in row 1 from
// shadowing the real header row below it. When no row has two, a row with a
// single usable name is accepted, and as a last resort a non-blank first row
// is used verbatim.
//
// Returns the header row index and whether its cells should be taken
// verbatim (the last-resort path keeps placeholder names instead of dropping
// them); data rows start right below it.
func detectHeaders(rows [][]string) (int, bool, error) {
	limit := len(rows)
	if limit > 3 {
		limit = 3
	}
	for _, minNames := range []int{2, 1} {
		for i := 0; i < limit; i++ {
			names := 0
			for _, cell := range rows[i] {
				cell = strings.TrimSpace(cell)
				if cell == "" || unnamedPattern.MatchString(cell) {
					continue
				}
				names++
			}
			if names >= minNames {
				return i, false, nil
			}
		}
	}
	if len(rows) > 0 {
		for _, cell := range rows[0] {
			if strings.TrimSpace(cell) != "" {
				return 0, true, nil
			}
		}
	}
	return 0, false, domain.ErrNoHeaders
}

// ImportTable imports a parsed table into the project as one atomic batch:
// either every row lands or none do. Header names are matched against
// existing columns case-insensitively; unmatched names become new text
// columns appended on the right.
func (a *App) ImportTable(projectID string, rows [][]string) (domain.ImportResult, error) {
	if err := a.requireProject(projectID); err != nil {
		return domain.ImportResult{}, err
	}
	headerRow, verbatim, err := detectHeaders(rows)
	if err != nil {
		return domain.ImportResult{}, err
	}

	var result domain.ImportResult
	err = a.store.Transaction(func(tx store.Store) error {
		existing, err := tx.ListColumns(projectID)
		if err != nil {
			return err
		}
		byName := make(map[string]string, len(existing))
		for _, col := range existing {
			byName[strings.ToLower(strings.TrimSpace(col.Name))] = col.ID
		}

		// Map each sheet column index to a column id. Blank and placeholder
		// headers stay unmapped and their cells are dropped.
		colIDs := make([]string, len(rows[headerRow]))
		for idx, raw := range rows[headerRow] {
			name := strings.TrimSpace(raw)
			if name == "" || (!verbatim && unnamedPattern.MatchString(name)) {
				continue
			}
			result.Columns++
			if id, ok := byName[strings.ToLower(name)]; ok {
				colIDs[idx] = id
				continue
			}
			col, err := tx.AddColumn(projectID, name, domain.ColumnText, "")
			if err != nil {
				return err
			}
			byName[strings.ToLower(name)] = col.ID
			colIDs[idx] = col.ID
		}

		for _, row := range rows[headerRow+1:] {
			payload := make(map[string]string)
			for idx, cell := range row {
				if idx >= len(colIDs) || colIDs[idx] == "" {
					continue
				}
				cell = strings.TrimSpace(cell)
				if cell == "" {
					continue
				}
				payload[colIDs[idx]] = cell
			}
			if len(payload) == 0 {
				continue
			}
			now := a.now().UTC()
			rec := domain.Record{
				ID:        util.NewID(),
				ProjectID: projectID,
				Payload:   payload,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateRecord(rec); err != nil {
				return err
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		return domain.ImportResult{}, &domain.ImportError{Err: err}
	}
	return result, nil
}

// ImportFile parses an uploaded workbook and imports it. Only xlsx and xls
// uploads are accepted.
func (a *App) ImportFile(projectID, filename string, r io.Reader) (domain.ImportResult, error) {
	lower := strings.ToLower(filename)
	if !strings.HasSuffix(lower, ".xlsx") && !strings.HasSuffix(lower, ".xls") {
		return domain.ImportResult{}, fmt.Errorf("%w: only .xlsx and .xls files can be imported", domain.ErrValidation)
	}
	rows, err := sheet.Parse(r)
	if err != nil {
		return domain.ImportResult{}, &domain.ImportError{Err: err}
	}
	return a.ImportTable(projectID, rows)
}
