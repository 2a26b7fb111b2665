package pipeline

import "sheetgen/internal/sheet"

// ComputeOffset returns the row index where a generation run should
// resume: the length of the leading contiguous run of done cells. A cell
// counts as done when it holds a value, carries no error, and is not
// stuck mid-generation; validated cells always count. The first gap --
// an error, an empty value, a missing row, or an in-flight marker --
// becomes the resume point.
func ComputeOffset(cells []sheet.Cell) int {
	byRow := make(map[int]sheet.Cell, len(cells))
	for _, cell := range cells {
		byRow[cell.RowIndex] = cell
	}
	offset := 0
	for {
		cell, ok := byRow[offset]
		if !ok || !cell.Done() {
			return offset
		}
		offset++
	}
}
