package provenance

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge/engine/tool"
)

// contentMetadata is what a successful content validation records into a
// ProvenanceResult's metadata for the caller's inspection.
type contentMetadata struct {
	Type    string   `json:"type"`
	Rows    int      `json:"rows,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// validateFileContent parses a file's content per expectedType (csv, json,
// or empty = no type-specific check) and checks row-count and required-
// column constraints. Mirrors the original Python ContentValidator's csv/
// json handling (§4.8 "type-specific content validator").
func validateFileContent(path, expectedType string, expectedRows, minRows *int, requiredColumns []string) (contentMetadata, error) {
	content, err := tool.DecodeFileContent(path)
	if err != nil {
		return contentMetadata{}, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(expectedType) {
	case "", "text", "txt":
		return contentMetadata{Type: "text"}, nil
	case "csv":
		return validateCSV(content, expectedRows, minRows, requiredColumns)
	case "json":
		return validateJSON(content, expectedRows, minRows)
	default:
		// No validator for this type; existence/size checks already ran.
		return contentMetadata{Type: expectedType}, nil
	}
}

func validateCSV(content string, expectedRows, minRows *int, requiredColumns []string) (contentMetadata, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return contentMetadata{}, fmt.Errorf("invalid csv: %w", err)
	}
	if len(records) == 0 {
		return contentMetadata{}, fmt.Errorf("csv has no rows, not even a header")
	}
	header := records[0]
	dataRows := len(records) - 1

	if len(requiredColumns) > 0 {
		present := make(map[string]bool, len(header))
		for _, c := range header {
			present[strings.TrimSpace(c)] = true
		}
		var missing []string
		for _, want := range requiredColumns {
			if !present[want] {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			return contentMetadata{}, fmt.Errorf("missing required columns: %v", missing)
		}
	}

	if expectedRows != nil && dataRows != *expectedRows {
		return contentMetadata{}, fmt.Errorf("expected exactly %d rows, found %d", *expectedRows, dataRows)
	}
	if minRows != nil && dataRows < *minRows {
		return contentMetadata{}, fmt.Errorf("expected at least %d rows, found %d", *minRows, dataRows)
	}

	return contentMetadata{Type: "csv", Rows: dataRows, Columns: header}, nil
}

func validateJSON(content string, expectedRows, minRows *int) (contentMetadata, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return contentMetadata{}, fmt.Errorf("invalid json: %w", err)
	}
	arr, isArray := v.([]interface{})
	if !isArray {
		return contentMetadata{Type: "json"}, nil
	}
	n := len(arr)
	if expectedRows != nil && n != *expectedRows {
		return contentMetadata{}, fmt.Errorf("expected exactly %d entries, found %d", *expectedRows, n)
	}
	if minRows != nil && n < *minRows {
		return contentMetadata{}, fmt.Errorf("expected at least %d entries, found %d", *minRows, n)
	}
	return contentMetadata{Type: "json", Rows: n}, nil
}
