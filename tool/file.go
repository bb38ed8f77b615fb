package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// ============================================================================
// FILE - the atomic file-ops tool (read/write/edit/list)
// ============================================================================

// FileTool is the file_op tool; its action argument selects read, write, or
// edit. Reads of PDF, DOCX,
// and XLSX files are decoded to plain text rather than returned as raw bytes
// — an agent asking to "read" a report wants the report's content, not a
// binary blob it can't reason about.
type FileTool struct {
	workDir string
}

func NewFileTool(workDir string) *FileTool {
	return &FileTool{workDir: workDir}
}

func (t *FileTool) GetName() string        { return "file_op" }
func (t *FileTool) GetDescription() string { return t.GetInfo().Description }

// FileOpArgs is the typed argument shape for file_op, reflected into a
// JSON schema via invopop/jsonschema so the advertised parameters and the
// mapstructure decode target never drift apart.
type FileOpArgs struct {
	Action     string `json:"action" jsonschema:"required,enum=read,enum=write,enum=edit,description=read | write | edit"`
	Path       string `json:"path" jsonschema:"required,description=File path, relative to the working directory"`
	Content    string `json:"content,omitempty" jsonschema:"description=New content (action=write)"`
	OldString  string `json:"old_string,omitempty" jsonschema:"description=Exact text to replace (action=edit)"`
	NewString  string `json:"new_string,omitempty" jsonschema:"description=Replacement text (action=edit)"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring a unique match (action=edit)"`
}

func (t *FileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "file_op",
		Description: "Read, write, or edit a file. action=read decodes PDF/DOCX/XLSX to text; action=write creates/overwrites with a .bak backup; action=edit replaces an exact substring.",
		Parameters:  ParametersFromStruct(FileOpArgs{}),
		ServerURL:   "local",
	}
}

func (t *FileTool) Execute(ctx context.Context, rawArgs map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	args, err := DecodeArgs[FileOpArgs](rawArgs)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}
	action, path := args.Action, args.Path
	if path == "" {
		return ToolResult{Success: false, Error: "path is required"}, nil
	}
	if err := t.validatePath(path); err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	full := filepath.Join(t.workDir, path)

	switch action {
	case "read":
		return t.read(full, path, start)
	case "write":
		return t.write(full, path, args.Content, start)
	case "edit":
		return t.edit(full, path, args.OldString, args.NewString, args.ReplaceAll, start)
	default:
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
}

func (t *FileTool) validatePath(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("directory traversal not allowed (..)")
	}
	return nil
}

func (t *FileTool) read(full, path string, start time.Time) (ToolResult, error) {
	info, err := os.Stat(full)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("stat failed: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	text, err := decodeFile(full)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to read %s: %v", path, err), ExecutionTime: time.Since(start)}, nil
	}
	return ToolResult{
		Success:       true,
		Content:       text,
		ToolName:      "file_op",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"path": path, "size": info.Size()},
	}, nil
}

// DecodeFileContent exposes decodeFile to other packages (the task graph's
// artifact validator, §4.7.1, needs the same PDF/DOCX/XLSX-aware read the
// file_op tool uses so a "produces=file:report.pdf" claim is checked against
// the same notion of content the agent itself sees).
func DecodeFileContent(path string) (string, error) {
	return decodeFile(path)
}

// decodeFile returns a file's textual content, decoding PDF/DOCX/XLSX into
// plain text and treating anything else as already-text.
func decodeFile(full string) (string, error) {
	switch strings.ToLower(filepath.Ext(full)) {
	case ".pdf":
		return decodePDF(full)
	case ".docx":
		return decodeDOCX(full)
	case ".xlsx":
		return decodeXLSX(full)
	default:
		data, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func decodePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func decodeDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return r.Editable().GetContent(), nil
}

func decodeXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "# %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func (t *FileTool) write(full, path, content string, start time.Time) (ToolResult, error) {
	existed := false
	if _, err := os.Stat(full); err == nil {
		existed = true
		if err := copyFile(full, full+".bak"); err != nil {
			return ToolResult{Success: false, Error: fmt.Sprintf("failed to create backup: %v", err), ExecutionTime: time.Since(start)}, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to create directory: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to write file: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	action := "created"
	if existed {
		action = "overwritten"
	}
	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("%s %s (%d bytes)", action, path, len(content)),
		ToolName:      "file_op",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"path": path, "action": action, "size": len(content)},
	}, nil
}

func (t *FileTool) edit(full, path, oldStr, newStr string, replaceAll bool, start time.Time) (ToolResult, error) {
	if oldStr == "" {
		return ToolResult{Success: false, Error: "old_string is required"}, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to read file: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	original := string(data)
	count := strings.Count(original, oldStr)
	if count == 0 {
		return ToolResult{Success: false, Error: "old_string not found in file", ExecutionTime: time.Since(start)}, nil
	}
	if !replaceAll && count > 1 {
		return ToolResult{Success: false, Error: fmt.Sprintf("old_string appears %d times; pass replace_all=true or make it unique", count), ExecutionTime: time.Since(start)}, nil
	}

	var updated string
	replaced := 1
	if replaceAll {
		updated = strings.ReplaceAll(original, oldStr, newStr)
		replaced = count
	} else {
		updated = strings.Replace(original, oldStr, newStr, 1)
	}

	if err := copyFile(full, full+".bak"); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to create backup: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to write file: %v", err), ExecutionTime: time.Since(start)}, nil
	}

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("replaced %d occurrence(s) in %s", replaced, path),
		ToolName:      "file_op",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":         path,
			"replacements": replaced,
			"size_change":  len(updated) - len(original),
		},
	}, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// ============================================================================
// FILE LIST - directory listing
// ============================================================================

// FileListTool lists the entries of one directory; subdirectories are shown
// with a trailing "/" but not descended into.
type FileListTool struct {
	workDir string
}

func NewFileListTool(workDir string) *FileListTool { return &FileListTool{workDir: workDir} }

func (t *FileListTool) GetName() string        { return "file_list" }
func (t *FileListTool) GetDescription() string { return t.GetInfo().Description }

func (t *FileListTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "file_list",
		Description: "List entries in a directory",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path, relative to the working directory (default \".\")", Required: false},
		},
		ServerURL: "local",
	}
}

func (t *FileListTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return ToolResult{Success: false, Error: "directory traversal not allowed (..)"}, nil
	}
	full := filepath.Join(t.workDir, path)

	entries, err := os.ReadDir(full)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to list %s: %v", path, err), ExecutionTime: time.Since(start)}, nil
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}

	return ToolResult{
		Success:       true,
		Content:       strings.Join(names, "\n"),
		Output:        names,
		ToolName:      "file_list",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"path": path, "count": len(names)},
	}, nil
}
