package provenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskforge/engine/evidence"
)

// DataAcquisitionClaim is one claim to cross-check: "I fetched <URL> and/or
// produced <File>". Any zero-value field is simply not checked.
type DataAcquisitionClaim struct {
	URL             string
	File            string
	ExpectedType    string
	ExpectedRows    *int
	MinRows         *int
	RequiredColumns []string
}

// VerifyDataAcquisition implements §4.8's verify_data_acquisition: checks
// the claimed URL against the fetch log, the claimed file against the
// filesystem and its declared content type, then cross-references the two
// when both are present.
func (c *Checker) VerifyDataAcquisition(claim DataAcquisitionClaim) *ProvenanceResult {
	result := newResult()
	result.Metadata["claimed_url"] = claim.URL
	result.Metadata["local_file"] = claim.File

	if claim.URL != "" {
		c.verifyFetch(claim.URL, result)
	}
	if claim.File != "" {
		c.verifyFile(claim.File, claim.ExpectedType, claim.ExpectedRows, claim.MinRows, claim.RequiredColumns, result)
	}
	if claim.URL != "" && claim.File != "" {
		if _, err := os.Stat(c.resolve(claim.File)); err == nil {
			c.crossReference(claim.URL, claim.File, result)
		}
	}
	return result
}

func (c *Checker) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.workDir, path)
}

func (c *Checker) verifyFetch(url string, result *ProvenanceResult) {
	entry, found := c.store.FindFetchForURL(url)
	if !found {
		result.addIssue(SeverityError, "no_fetch_record",
			fmt.Sprintf("no fetch record found for URL %s; claims to have downloaded data but no HTTP request was logged", url),
			map[string]interface{}{"url": url})
		return
	}

	if !entry.Success {
		result.addIssue(SeverityError, "fetch_failed", fmt.Sprintf("fetch failed for URL %s", url), fetchEvidence(entry))
		return
	}
	if entry.StatusCode >= 400 {
		result.addIssue(SeverityError, "http_error", fmt.Sprintf("HTTP error %d for URL %s", entry.StatusCode, url), fetchEvidence(entry))
		return
	}
	if entry.IsErrorPage {
		result.addIssue(SeverityError, "error_page",
			fmt.Sprintf("fetched content for %s appears to be an error page; indicators: %v", url, entry.ErrorIndicators),
			fetchEvidence(entry))
		return
	}
	if entry.IsHTML && !strings.Contains(strings.ToLower(entry.ContentType), "html") {
		result.addIssue(SeverityWarning, "unexpected_html",
			fmt.Sprintf("content appears to be HTML but content-type is %q: %s", entry.ContentType, url),
			fetchEvidence(entry))
	}

	result.Metadata["fetch_verified"] = true
	result.Metadata["fetch_entry"] = entry
}

func fetchEvidence(e evidence.FetchEntry) map[string]interface{} {
	return map[string]interface{}{
		"url":            e.URL,
		"final_url":      e.FinalURL,
		"status_code":    e.StatusCode,
		"content_type":   e.ContentType,
		"content_length": e.ContentLength,
		"success":        e.Success,
	}
}

func (c *Checker) verifyFile(path, expectedType string, expectedRows, minRows *int, requiredColumns []string, result *ProvenanceResult) {
	full := c.resolve(path)
	info, err := os.Stat(full)
	if err != nil {
		result.addIssue(SeverityError, "file_not_found", fmt.Sprintf("claimed output file does not exist: %s", path),
			map[string]interface{}{"file_path": path})
		return
	}
	if info.Size() == 0 {
		result.addIssue(SeverityError, "empty_file", fmt.Sprintf("output file is empty: %s", path),
			map[string]interface{}{"file_path": path, "size": 0})
		return
	}

	meta, err := validateFileContent(full, expectedType, expectedRows, minRows, requiredColumns)
	if err != nil {
		result.addIssue(SeverityError, "invalid_content", fmt.Sprintf("file content validation failed: %v", err),
			map[string]interface{}{"file_path": path})
		return
	}

	result.Metadata["file_verified"] = true
	result.Metadata["file_metadata"] = meta
}

func (c *Checker) crossReference(url, path string, result *ProvenanceResult) {
	entry, found := c.store.FindFetchForURL(url)
	if !found {
		return // already flagged by verifyFetch
	}
	full := c.resolve(path)
	info, err := os.Stat(full)
	if err != nil || entry.ContentLength <= 0 || info.Size() == 0 {
		return
	}
	ratio := float64(info.Size()) / float64(entry.ContentLength)
	if ratio < 0.1 || ratio > 10 {
		result.addIssue(SeverityWarning, "size_mismatch",
			fmt.Sprintf("file size (%d) differs significantly from fetched content (%d)", info.Size(), entry.ContentLength),
			map[string]interface{}{"url": url, "file_path": path, "fetch_length": entry.ContentLength, "file_size": info.Size(), "ratio": ratio})
	}
}
