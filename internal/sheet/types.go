package sheet

import (
	"strings"

	"github.com/google/uuid"
)

// ColumnKind distinguishes user-provided input columns from AI-generated ones.
type ColumnKind string

const (
	KindStatic  ColumnKind = "static"
	KindDynamic ColumnKind = "dynamic"
)

// Column is a named output slot in a dataset. A dynamic column owns
// exactly one Process that describes how its cells are generated.
type Column struct {
	ID        string     `json:"id"`
	DatasetID string     `json:"dataset_id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Kind      ColumnKind `json:"kind"`
	Visible   bool       `json:"visible"`
	Process   *Process   `json:"process,omitempty"`
}

// Process is the generation configuration attached to a dynamic column.
// Editing a process does not invalidate previously cached results unless
// cache scoping by process version is enabled (see cache.Options).
type Process struct {
	ID            string   `json:"id"`
	ColumnID      string   `json:"column_id"`
	Instruction   string   `json:"instruction"`
	ModelName     string   `json:"model_name"`
	ModelProvider string   `json:"model_provider"`
	EndpointURL   string   `json:"endpoint_url,omitempty"`
	ReferencedIDs []string `json:"referenced_ids,omitempty"`
	SearchEnabled bool     `json:"search_enabled"`
	ImageOutput   bool     `json:"image_output"`
	Version       int      `json:"version"`
	UpdatedAt     int64    `json:"updated_at"`
}

// Cell is one (column, row) value slot and the unit of generation work.
type Cell struct {
	ColumnID   string   `json:"column_id"`
	RowIndex   int      `json:"row_index"`
	Value      string   `json:"value"`
	Error      string   `json:"error,omitempty"`
	Generating bool     `json:"generating"`
	Validated  bool     `json:"validated"`
	Sources    []Source `json:"sources,omitempty"`
}

// Source is a citation attached to a cell when web-search augmentation
// contributed to its value.
type Source struct {
	URI     string `json:"uri"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Done reports whether the cell needs no further generation: it holds a
// non-empty value, carries no error, and is not stuck mid-flight.
// Validated cells count as done regardless of value state.
func (c Cell) Done() bool {
	if c.Validated {
		return true
	}
	return strings.TrimSpace(c.Value) != "" && c.Error == "" && !c.Generating
}

func NewColumn(datasetID, name, typ string, kind ColumnKind) Column {
	return Column{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Name:      name,
		Type:      typ,
		Kind:      kind,
		Visible:   true,
	}
}

func NewProcess(columnID, instruction, modelName, modelProvider string) Process {
	return Process{
		ID:            uuid.NewString(),
		ColumnID:      columnID,
		Instruction:   instruction,
		ModelName:     modelName,
		ModelProvider: modelProvider,
		Version:       1,
	}
}
