package cellstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sheetgen/internal/sheet"
)

type fileState struct {
	Columns []sheet.Column `json:"columns"`
	Cells   []sheet.Cell   `json:"cells"`
}

func (s *Store) ensureLoadedFile() {
	s.loadOnce.Do(func() {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var state fileState
		if err := json.Unmarshal(raw, &state); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, col := range state.Columns {
			s.columns[col.ID] = col
		}
		for _, cell := range state.Cells {
			byRow, ok := s.cells[cell.ColumnID]
			if !ok {
				byRow = make(map[int]sheet.Cell)
				s.cells[cell.ColumnID] = byRow
			}
			byRow[cell.RowIndex] = cell
		}
	})
}

func (s *Store) saveFile() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	state := fileState{}
	for _, col := range s.columns {
		state.Columns = append(state.Columns, col)
	}
	for _, byRow := range s.cells {
		for _, cell := range byRow {
			state.Cells = append(state.Cells, cell)
		}
	}
	s.mu.RUnlock()

	sort.Slice(state.Columns, func(i, j int) bool { return state.Columns[i].ID < state.Columns[j].ID })
	sort.Slice(state.Cells, func(i, j int) bool {
		if state.Cells[i].ColumnID != state.Cells[j].ColumnID {
			return state.Cells[i].ColumnID < state.Cells[j].ColumnID
		}
		return state.Cells[i].RowIndex < state.Cells[j].RowIndex
	})

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) getColumnFile(columnID string) (sheet.Column, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.columns[columnID]
	if !ok {
		return sheet.Column{}, ErrColumnNotFound
	}
	return col, nil
}

func (s *Store) putColumnFile(col sheet.Column) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	s.columns[col.ID] = col
	s.mu.Unlock()
	return s.saveFile()
}

func (s *Store) readCellsFile(columnID string) ([]sheet.Cell, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRow := s.cells[columnID]
	out := make([]sheet.Cell, 0, len(byRow))
	for _, cell := range byRow {
		out = append(out, cell)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (s *Store) writeCellFile(cell sheet.Cell) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	byRow, ok := s.cells[cell.ColumnID]
	if !ok {
		byRow = make(map[int]sheet.Cell)
		s.cells[cell.ColumnID] = byRow
	}
	byRow[cell.RowIndex] = cell
	s.mu.Unlock()
	return s.saveFile()
}

func (s *Store) rowCountFile(datasetID string) (int, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, col := range s.columns {
		if col.DatasetID != datasetID {
			continue
		}
		for row := range s.cells[col.ID] {
			if row+1 > max {
				max = row + 1
			}
		}
	}
	return max, nil
}

func (s *Store) rowDataFile(datasetID string, columnNames []string, offset, limit int) ([]map[string]string, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := make(map[string]sheet.Column, len(columnNames))
	for _, col := range s.columns {
		if col.DatasetID == datasetID {
			byName[strings.TrimSpace(col.Name)] = col
		}
	}

	rows := make([]map[string]string, 0, limit)
	for i := 0; i < limit; i++ {
		row := make(map[string]string, len(columnNames))
		for _, name := range columnNames {
			col, ok := byName[name]
			if !ok {
				continue
			}
			if cell, ok := s.cells[col.ID][offset+i]; ok {
				row[name] = cell.Value
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
