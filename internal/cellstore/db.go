package cellstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sheetgen/internal/sheet"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS columns (
	id         TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL DEFAULT 'static',
	visible    BOOLEAN NOT NULL DEFAULT TRUE,
	process    JSONB
);
CREATE INDEX IF NOT EXISTS columns_dataset_idx ON columns (dataset_id);

CREATE TABLE IF NOT EXISTS cells (
	column_id  TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	generating BOOLEAN NOT NULL DEFAULT FALSE,
	validated  BOOLEAN NOT NULL DEFAULT FALSE,
	sources    JSONB,
	PRIMARY KEY (column_id, row_index)
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, schemaSQL)
	})
	return s.schemaErr
}

func (s *Store) getColumnDB(ctx context.Context, columnID string) (sheet.Column, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return sheet.Column{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset_id, name, type, kind, visible, process FROM columns WHERE id = $1`,
		columnID)

	var col sheet.Column
	var process sql.NullString
	if err := row.Scan(&col.ID, &col.DatasetID, &col.Name, &col.Type, &col.Kind, &col.Visible, &process); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sheet.Column{}, ErrColumnNotFound
		}
		return sheet.Column{}, err
	}
	if process.Valid && process.String != "" {
		var proc sheet.Process
		if err := json.Unmarshal([]byte(process.String), &proc); err == nil {
			col.Process = &proc
		}
	}
	return col, nil
}

func (s *Store) putColumnDB(ctx context.Context, col sheet.Column) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var process any
	if col.Process != nil {
		raw, err := json.Marshal(col.Process)
		if err != nil {
			return err
		}
		process = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO columns (id, dataset_id, name, type, kind, visible, process)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			dataset_id = EXCLUDED.dataset_id,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			kind = EXCLUDED.kind,
			visible = EXCLUDED.visible,
			process = EXCLUDED.process`,
		col.ID, col.DatasetID, col.Name, col.Type, col.Kind, col.Visible, process)
	return err
}

func (s *Store) readCellsDB(ctx context.Context, columnID string) ([]sheet.Cell, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_id, row_index, value, error, generating, validated, sources
		FROM cells WHERE column_id = $1 ORDER BY row_index`,
		columnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sheet.Cell
	for rows.Next() {
		var cell sheet.Cell
		var sources sql.NullString
		if err := rows.Scan(&cell.ColumnID, &cell.RowIndex, &cell.Value, &cell.Error, &cell.Generating, &cell.Validated, &sources); err != nil {
			return nil, err
		}
		if sources.Valid && sources.String != "" {
			_ = json.Unmarshal([]byte(sources.String), &cell.Sources)
		}
		out = append(out, cell)
	}
	return out, rows.Err()
}

func (s *Store) writeCellDB(ctx context.Context, cell sheet.Cell) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var sources any
	if len(cell.Sources) > 0 {
		raw, err := json.Marshal(cell.Sources)
		if err != nil {
			return err
		}
		sources = string(raw)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cells (column_id, row_index, value, error, generating, validated, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (column_id, row_index) DO UPDATE SET
			value = EXCLUDED.value,
			error = EXCLUDED.error,
			generating = EXCLUDED.generating,
			validated = EXCLUDED.validated,
			sources = EXCLUDED.sources`,
		cell.ColumnID, cell.RowIndex, cell.Value, cell.Error, cell.Generating, cell.Validated, sources)
	return err
}

func (s *Store) rowCountDB(ctx context.Context, datasetID string) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(c.row_index) + 1, 0)
		FROM cells c JOIN columns col ON col.id = c.column_id
		WHERE col.dataset_id = $1`,
		datasetID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) rowDataDB(ctx context.Context, datasetID string, columnNames []string, offset, limit int) ([]map[string]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, limit)
	if len(columnNames) == 0 {
		for i := 0; i < limit; i++ {
			out = append(out, map[string]string{})
		}
		return out, nil
	}
	for i := 0; i < limit; i++ {
		rowIndex := offset + i
		cacheKey := rowCacheKey(datasetID, columnNames, rowIndex)
		if s.rowCache != nil {
			if cached, ok := s.rowCache.Get(cacheKey); ok {
				out = append(out, cached)
				continue
			}
		}

		row := make(map[string]string, len(columnNames))
		placeholders := make([]string, 0, len(columnNames))
		args := []any{datasetID, rowIndex}
		for _, name := range columnNames {
			row[name] = ""
			args = append(args, name)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query := fmt.Sprintf(`
			SELECT col.name, c.value
			FROM cells c JOIN columns col ON col.id = c.column_id
			WHERE col.dataset_id = $1 AND c.row_index = $2 AND col.name IN (%s)`,
			strings.Join(placeholders, ", "))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var name, value string
			if err := rows.Scan(&name, &value); err != nil {
				rows.Close()
				return nil, err
			}
			row[name] = value
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if s.rowCache != nil {
			s.rowCache.Add(cacheKey, row)
		}
		out = append(out, row)
	}
	return out, nil
}

func rowCacheKey(datasetID string, columnNames []string, rowIndex int) string {
	return fmt.Sprintf("%s|%s|%d", datasetID, strings.Join(columnNames, ","), rowIndex)
}
