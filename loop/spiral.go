package loop

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// ============================================================================
// SPIRAL DETECTION (§4.5.1)
// ============================================================================
//
// The loop classifies every failed tool result into a canonical error
// signature and counts repeats. The first occurrence gets an inline fix
// recipe, the second suggests delegating to a debug sub-executor, and the
// third (and beyond) escalates to asking the human — the whole point being
// that a model stuck retrying the same mistake should stop retrying and
// change strategy instead.

// signaturePattern pairs a canonical signature with the regex that detects
// it. Order matters: the first match wins, so more specific signatures
// (e.g. JSON_ERROR) are listed ahead of looser ones they could otherwise be
// swallowed by.
type signaturePattern struct {
	signature string
	pattern   *regexp.Regexp
}

var signatureTable = []signaturePattern{
	{"TIMEOUT", regexp.MustCompile(`(?i)\btimed?[ -]?out\b|\bdeadline exceeded\b|\bcontext deadline\b`)},
	{"IMPORT_ERROR", regexp.MustCompile(`(?i)\bimporterror\b|\bcannot find (package|module)\b|\bno such (package|module)\b|\bmodule not found\b`)},
	{"JSON_ERROR", regexp.MustCompile(`(?i)\bjson\b.*\b(unmarshal|decode|parse|invalid)\b|\binvalid character\b.*\bjson\b`)},
	{"TYPE_ERROR", regexp.MustCompile(`(?i)\btypeerror\b|\bcannot use\b.*\bas\b.*\btype\b|\bmismatched types\b`)},
	{"SYNTAX_ERROR", regexp.MustCompile(`(?i)\bsyntaxerror\b|\bunexpected token\b|\bsyntax error\b`)},
	{"FILE_NOT_FOUND", regexp.MustCompile(`(?i)\bno such file\b|\bfilenotfounderror\b|\bfile not found\b|\bcannot find the (file|path)\b`)},
	{"PERMISSION_ERROR", regexp.MustCompile(`(?i)\bpermission denied\b|\bpermissionerror\b|\baccess is denied\b|\beacces\b`)},
	{"MEMORY_ERROR", regexp.MustCompile(`(?i)\bout of memory\b|\bmemoryerror\b|\bcannot allocate memory\b|\boom\b`)},
	{"NETWORK_ERROR", regexp.MustCompile(`(?i)\bconnection refused\b|\bconnection reset\b|\bno route to host\b|\bdns\b.*\bfail\b|\bnetwork is unreachable\b`)},
	{"KEY_ERROR", regexp.MustCompile(`(?i)\bkeyerror\b|\bno such key\b|\bkey not found\b`)},
	{"INDEX_ERROR", regexp.MustCompile(`(?i)\bindexerror\b|\bindex out of range\b|\bindex out of bounds\b`)},
	{"NULL_ERROR", regexp.MustCompile(`(?i)\bnullpointerexception\b|\bnil pointer dereference\b|\bnonetype\b|\battribute error.*none\b`)},
	{"BUILD_ERROR", regexp.MustCompile(`(?i)\bbuild failed\b|\bcompilation failed\b|\bcompile error\b`)},
	{"TEST_FAILURE", regexp.MustCompile(`(?i)\btest(s)? failed\b|\bassertionerror\b|\bfailures?:\s*\d|\bfail\b.*\btest\b`)},
}

var (
	quotedLiteralRe = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	lineNumberRe    = regexp.MustCompile(`(?i)\bline\s+\d+\b`)
	digitRe         = regexp.MustCompile(`\d+`)
)

// normalizeErrorText strips digits, quoted literals, and "line N" markers
// so two occurrences of the same underlying failure (different file names,
// different line numbers) classify to the same signature.
func normalizeErrorText(s string) string {
	s = lineNumberRe.ReplaceAllString(s, "line")
	s = quotedLiteralRe.ReplaceAllString(s, "")
	s = digitRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// classifyError maps a raw tool error string to its canonical signature,
// falling back to a stable hash-derived bucket for anything unrecognized so
// repeats of the same weird error still count against each other.
func classifyError(raw string) string {
	normalized := normalizeErrorText(raw)
	for _, sp := range signatureTable {
		if sp.pattern.MatchString(normalized) {
			return sp.signature
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalized))
	return fmt.Sprintf("UNKNOWN_%x", h.Sum32())
}

// fixRecipes gives each signature a short, model-actionable recipe appended
// to the conversation the first time it's seen.
var fixRecipes = map[string]string{
	"TIMEOUT":          "The last command timed out. Reduce its scope (smaller input, narrower glob, a tighter subcommand) or raise any explicit timeout flag it accepts before retrying.",
	"IMPORT_ERROR":     "An import/module could not be resolved. Check the module is actually declared as a dependency and the import path matches what's installed before retrying.",
	"JSON_ERROR":       "A JSON payload failed to parse or decode. Print the raw payload first and fix its shape — don't retry the same call unchanged.",
	"TYPE_ERROR":       "A type mismatch occurred. Re-check the actual type of the value at that point (print it) before changing the code.",
	"SYNTAX_ERROR":     "A syntax error was introduced. Re-read the exact line reported and fix the malformed construct before rerunning.",
	"FILE_NOT_FOUND":   "A referenced path does not exist. List the containing directory to confirm the real path before retrying.",
	"PERMISSION_ERROR": "The operation was denied by the OS. Check file mode/ownership, or pick a path the process can actually write to.",
	"MEMORY_ERROR":     "The process ran out of memory. Process the input in smaller chunks instead of loading it all at once.",
	"NETWORK_ERROR":    "A network call could not connect. Confirm the host/port are reachable from this environment before retrying the same request.",
	"KEY_ERROR":        "A map/dict lookup used a key that isn't present. Check the key actually exists (or use a safe lookup) before assuming it does.",
	"INDEX_ERROR":      "A collection was indexed out of bounds. Check its length before indexing into it.",
	"NULL_ERROR":       "A nil/null value was dereferenced. Add a nil check at the point of failure instead of repeating the call.",
	"BUILD_ERROR":      "The build failed. Read the full compiler output — usually the first reported error is the real one, later ones cascade from it.",
	"TEST_FAILURE":     "Tests failed. Read the specific assertion that failed rather than rerunning the whole suite unchanged.",
}

func fixRecipeFor(signature string) string {
	if r, ok := fixRecipes[signature]; ok {
		return r
	}
	return "That failure recurred. Stop and reconsider the approach rather than repeating the same call verbatim."
}

var logPathRe = regexp.MustCompile(`(?i)[\w./\\-]+\.log\b`)

// detectLogReference returns the first path-like token ending in .log found
// in the error text, if any, for the count=2 debug-delegation message.
func detectLogReference(raw string) (string, bool) {
	m := logPathRe.FindString(raw)
	return m, m != ""
}

// spiralTracker counts repeats of each canonical error signature across one
// loop run, and decides what (if anything) to inject after a failed round.
type spiralTracker struct {
	counts map[string]int
}

func newSpiralTracker() *spiralTracker {
	return &spiralTracker{counts: make(map[string]int)}
}

// spiralAction is the message the loop should append to the conversation
// after observing a failure, or the empty string if none is warranted yet.
type spiralAction struct {
	Message      string
	AskUser      bool // count >= 3: escalate via the ask_user tool
	ResetCounter bool
}

// Observe records one failure's canonical signature and returns the action
// to take, following the 1/2/3+ escalation ladder in §4.5.1.
func (s *spiralTracker) Observe(errText string) spiralAction {
	sig := classifyError(errText)
	s.counts[sig]++
	count := s.counts[sig]

	switch {
	case count == 1:
		return spiralAction{Message: fmt.Sprintf("[spiral-check %s] %s", sig, fixRecipeFor(sig))}
	case count == 2:
		msg := fmt.Sprintf("[spiral-check %s] This is the second time this failure has recurred. Consider delegating to a \"debug\" sub-executor instead of retrying directly.", sig)
		if logPath, ok := detectLogReference(errText); ok {
			msg += fmt.Sprintf(" Log reference: %s", logPath)
		}
		return spiralAction{Message: msg}
	default:
		s.counts[sig] = 0
		return spiralAction{
			Message:      fmt.Sprintf("[spiral-check %s] This failure has now recurred %d times. Stop retrying it directly — use the ask_user tool to get guidance from the human operator before trying again.", sig, count),
			AskUser:      true,
			ResetCounter: true,
		}
	}
}
