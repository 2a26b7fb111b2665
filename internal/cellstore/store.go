package cellstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sheetgen/internal/sheet"
)

var ErrColumnNotFound = errors.New("cellstore: column not found")

// Repository is the persistence collaborator the pipeline consumes. The
// pipeline reads cells before starting (offset computation, row-reference
// data) and writes one cell per terminal state change.
type Repository interface {
	GetColumn(ctx context.Context, columnID string) (sheet.Column, error)
	PutColumn(ctx context.Context, col sheet.Column) error
	ReadCells(ctx context.Context, columnID string) ([]sheet.Cell, error)
	WriteCell(ctx context.Context, cell sheet.Cell) error
	RowCount(ctx context.Context, datasetID string) (int, error)

	// RowData returns, for each row in [offset, offset+limit), the values
	// of the named columns keyed by column name.
	RowData(ctx context.Context, datasetID string, columnNames []string, offset, limit int) ([]map[string]string, error)
}

// Store backs Repository with Postgres when a DSN is configured and a
// JSON file otherwise. The rowCache keeps hot row windows off the
// database during a generation run.
type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	columns  map[string]sheet.Column
	cells    map[string]map[int]sheet.Cell // columnID -> rowIndex -> cell

	schemaOnce sync.Once
	schemaErr  error

	rowCache *lru.Cache[string, map[string]string]
}

func New(path string) *Store {
	return &Store{
		path:    path,
		columns: make(map[string]sheet.Column),
		cells:   make(map[string]map[int]sheet.Cell),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, map[string]string](4096)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:       db,
		rowCache: cache,
	}, nil
}

// NewFromEnv prefers Postgres (CELL_STORE_PG_DSN) and falls back to the
// file store at path.
func NewFromEnv(path string) *Store {
	dsn := strings.TrimSpace(os.Getenv("CELL_STORE_PG_DSN"))
	if dsn == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

func (s *Store) GetColumn(ctx context.Context, columnID string) (sheet.Column, error) {
	if s.db != nil {
		return s.getColumnDB(ctx, columnID)
	}
	return s.getColumnFile(columnID)
}

func (s *Store) PutColumn(ctx context.Context, col sheet.Column) error {
	if s.db != nil {
		return s.putColumnDB(ctx, col)
	}
	return s.putColumnFile(col)
}

func (s *Store) ReadCells(ctx context.Context, columnID string) ([]sheet.Cell, error) {
	if s.db != nil {
		return s.readCellsDB(ctx, columnID)
	}
	return s.readCellsFile(columnID)
}

func (s *Store) WriteCell(ctx context.Context, cell sheet.Cell) error {
	if s.db != nil {
		if err := s.writeCellDB(ctx, cell); err != nil {
			return err
		}
		s.invalidateRowCache(cell)
		return nil
	}
	return s.writeCellFile(cell)
}

func (s *Store) RowCount(ctx context.Context, datasetID string) (int, error) {
	if s.db != nil {
		return s.rowCountDB(ctx, datasetID)
	}
	return s.rowCountFile(datasetID)
}

func (s *Store) RowData(ctx context.Context, datasetID string, columnNames []string, offset, limit int) ([]map[string]string, error) {
	if s.db != nil {
		return s.rowDataDB(ctx, datasetID, columnNames, offset, limit)
	}
	return s.rowDataFile(datasetID, columnNames, offset, limit)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return s.saveFile()
}

func (s *Store) invalidateRowCache(cell sheet.Cell) {
	if s.rowCache == nil {
		return
	}
	// Row windows are keyed per dataset; dropping everything is cheap
	// compared to tracking which windows contain this cell.
	s.rowCache.Purge()
}
