package promptgen

import (
	"fmt"
	"regexp"
	"strings"

	"sheetgen/internal/cache"
	"sheetgen/internal/sheet"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Input is everything the materializer folds into the final prompt.
// RowData maps referenced column names to this row's cell values.
type Input struct {
	Instruction string
	RowData     map[string]string
	Sources     []sheet.Source
	Examples    []cache.Example
}

// Materialize substitutes {{Column Name}} placeholders with row values
// and appends the optional sources context and few-shot examples. Pure:
// no state, no I/O. A placeholder naming an unknown column is an error.
func Materialize(in Input) (string, error) {
	var missing []string
	body := placeholderRe.ReplaceAllStringFunc(in.Instruction, func(m string) string {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}"))
		value, ok := in.RowData[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("referenced columns not found: %s", strings.Join(missing, ", "))
	}

	var b strings.Builder
	b.WriteString(body)

	if len(in.Sources) > 0 {
		b.WriteString("\n\nUse the following web sources when answering:\n")
		for i, src := range in.Sources {
			fmt.Fprintf(&b, "[%d] %s", i+1, src.URI)
			if src.Snippet != "" {
				b.WriteString("\n")
				b.WriteString(src.Snippet)
			}
			b.WriteString("\n")
		}
	}

	if len(in.Examples) > 0 {
		b.WriteString("\n\nExamples of previously accepted answers:\n")
		for _, ex := range in.Examples {
			fmt.Fprintf(&b, "Input: %s\nOutput: %s\n", ex.Input, ex.Output)
		}
	}

	return b.String(), nil
}
