package taskgraph

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/taskforge/engine/tool"
)

// validateArtifact implements §4.7.1's `produces` grammar:
//
//	file:<path>[:<type>[:<rows>|<rows>+]]
//	data
//	metrics
//	"" (no claim — always passes)
func validateArtifact(workDir, produces string, result interface{}) error {
	if produces == "" {
		return nil
	}
	switch {
	case produces == "data" || produces == "metrics":
		if result == nil {
			return fmt.Errorf("artifact_missing: produces=%s but task result is null", produces)
		}
		return nil
	case strings.HasPrefix(produces, "file:"):
		return validateFileArtifact(workDir, strings.TrimPrefix(produces, "file:"))
	default:
		return fmt.Errorf("artifact_missing: unrecognized produces claim %q", produces)
	}
}

func validateFileArtifact(workDir, spec string) error {
	parts := strings.SplitN(spec, ":", 3)
	path := parts[0]
	if path == "" {
		return fmt.Errorf("artifact_missing: empty file path in produces claim")
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(workDir, path)
	}

	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("artifact_missing: %s does not exist: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact_empty: %s exists but is empty", path)
	}

	if len(parts) < 2 || parts[1] == "" {
		return nil
	}
	fileType := parts[1]

	content, err := tool.DecodeFileContent(full)
	if err != nil {
		return fmt.Errorf("artifact_type_invalid: failed to read %s as %s: %w", path, fileType, err)
	}

	rowCount, rowsKnown, err := rowCountForType(fileType, content)
	if err != nil {
		return fmt.Errorf("artifact_type_invalid: %s does not parse as %s: %w", path, fileType, err)
	}

	if len(parts) < 3 || parts[2] == "" || !rowsKnown {
		return nil
	}
	return validateRowSpec(path, parts[2], rowCount)
}

// rowCountForType parses content per its declared type, returning a row
// count when the type has a natural notion of rows.
func rowCountForType(fileType, content string) (count int, rowsKnown bool, err error) {
	switch strings.ToLower(fileType) {
	case "csv":
		r := csv.NewReader(strings.NewReader(content))
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil {
			return 0, false, err
		}
		// Header row doesn't count as data.
		n := len(records)
		if n > 0 {
			n--
		}
		return n, true, nil
	case "json":
		var v interface{}
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			return 0, false, err
		}
		if arr, ok := v.([]interface{}); ok {
			return len(arr), true, nil
		}
		return 0, false, nil
	default:
		return 0, false, nil
	}
}

func validateRowSpec(path, rowSpec string, actual int) error {
	minOnly := strings.HasSuffix(rowSpec, "+")
	numStr := strings.TrimSuffix(rowSpec, "+")
	want, err := strconv.Atoi(numStr)
	if err != nil {
		return fmt.Errorf("artifact_row_count: invalid row spec %q in produces claim", rowSpec)
	}
	if minOnly {
		if actual < want {
			return fmt.Errorf("artifact_row_count: %s has %d rows, want at least %d", path, actual, want)
		}
		return nil
	}
	if actual != want {
		return fmt.Errorf("artifact_row_count: %s has %d rows, want exactly %d", path, actual, want)
	}
	return nil
}

// validateTarget implements the `target.metric` extraction and comparison.
// The metric is either the raw numeric result itself or a mapping keyed by
// the metric name.
func validateTarget(target *Target, result interface{}) error {
	if target == nil {
		return nil
	}
	actual, ok := extractMetric(target.Metric, result)
	if !ok {
		return fmt.Errorf("target_metric_missing: metric %q not found in task result", target.Metric)
	}
	if !compare(actual, target.Operator, target.Value) {
		return fmt.Errorf("target_not_met: %s=%v %s %v failed", target.Metric, actual, target.Operator, target.Value)
	}
	return nil
}

func extractMetric(metric string, result interface{}) (float64, bool) {
	switch v := result.(type) {
	case map[string]interface{}:
		raw, ok := v[metric]
		if !ok {
			return 0, false
		}
		return toFloat(raw)
	default:
		return toFloat(result)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func compare(actual float64, op Operator, want float64) bool {
	switch op {
	case OpGE:
		return actual >= want
	case OpLE:
		return actual <= want
	case OpGT:
		return actual > want
	case OpLT:
		return actual < want
	case OpEQ:
		return actual == want
	case OpNE:
		return actual != want
	default:
		return false
	}
}
