package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// SEARCH - the atomic search tool (file-pattern + content-regex)
// ============================================================================

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true, ".sessions": true, "_logs": true}

// SearchFilesTool finds files whose path matches a glob-style pattern.
type SearchFilesTool struct {
	workDir string
}

func NewSearchFilesTool(workDir string) *SearchFilesTool { return &SearchFilesTool{workDir: workDir} }

func (t *SearchFilesTool) GetName() string        { return "search_files" }
func (t *SearchFilesTool) GetDescription() string { return t.GetInfo().Description }

func (t *SearchFilesTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "search_files",
		Description: "Find files below a root directory whose name matches a glob pattern (e.g. *.go)",
		Parameters: []ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern matched against the base file name", Required: true},
			{Name: "path", Type: "string", Description: "Root directory to search (default \".\")", Required: false},
			{Name: "limit", Type: "integer", Description: "Maximum matches to return (default 100)", Required: false},
		},
		ServerURL: "local",
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ToolResult{Success: false, Error: "pattern is required"}, nil
	}
	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	limit := intArg(args["limit"], 100)

	var matches []string
	err := filepath.WalkDir(filepath.Join(t.workDir, root), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			rel, _ := filepath.Rel(t.workDir, p)
			matches = append(matches, rel)
			if len(matches) >= limit {
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}
	sort.Strings(matches)

	return ToolResult{
		Success:       true,
		Content:       strings.Join(matches, "\n"),
		Output:        matches,
		ToolName:      "search_files",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"pattern": pattern, "count": len(matches)},
	}, nil
}

var errStopWalk = fmt.Errorf("search_files: limit reached")

// SearchContentTool greps file contents for a regular expression.
type SearchContentTool struct {
	workDir string
}

func NewSearchContentTool(workDir string) *SearchContentTool {
	return &SearchContentTool{workDir: workDir}
}

func (t *SearchContentTool) GetName() string        { return "search_content" }
func (t *SearchContentTool) GetDescription() string { return t.GetInfo().Description }

func (t *SearchContentTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "search_content",
		Description: "Search file contents below a root directory for lines matching a regular expression",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "Regular expression to search for", Required: true},
			{Name: "path", Type: "string", Description: "Root directory to search (default \".\")", Required: false},
			{Name: "file_pattern", Type: "string", Description: "Glob filter on file name (default \"*\")", Required: false},
			{Name: "limit", Type: "integer", Description: "Maximum matching lines to return (default 200)", Required: false},
		},
		ServerURL: "local",
	}
}

// SearchContentMatch is one matching line, returned via ToolResult.Output.
type SearchContentMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchContentTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	query, _ := args["query"].(string)
	if query == "" {
		return ToolResult{Success: false, Error: "query is required"}, nil
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("invalid regular expression: %v", err)}, nil
	}
	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	filePattern, _ := args["file_pattern"].(string)
	if filePattern == "" {
		filePattern = "*"
	}
	limit := intArg(args["limit"], 200)

	var matches []SearchContentMatch
	walkErr := filepath.WalkDir(filepath.Join(t.workDir, root), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil || looksBinary(data) {
			return nil
		}
		rel, _ := filepath.Rel(t.workDir, p)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, SearchContentMatch{Path: rel, Line: i + 1, Text: line})
				if len(matches) >= limit {
					return errStopWalk
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != errStopWalk {
		return ToolResult{Success: false, Error: walkErr.Error(), ExecutionTime: time.Since(start)}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}

	return ToolResult{
		Success:       true,
		Content:       sb.String(),
		Output:        matches,
		ToolName:      "search_content",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"query": query, "count": len(matches)},
	}, nil
}

func looksBinary(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

func intArg(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
