// Package coverage extracts documentation-coverage totals from the
// per-file JSON lines a doc build emits on standard output.
package coverage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// Totals is the summed coverage across every file a build reported on.
// A Totals with both fields zero means no coverage data was found and
// the caller should record no coverage at all.
type Totals struct {
	Total    int
	WithDocs int
}

// Empty reports whether both sums are zero.
func (t Totals) Empty() bool { return t.Total == 0 && t.WithDocs == 0 }

type fileCoverage struct {
	Total    int `json:"total"`
	WithDocs int `json:"with_docs"`
}

// Extract scans log line by line, summing total/with_docs out of
// every line that looks like a per-file coverage object (starts with
// '{', ends with '}', parses as JSON with those two fields). Lines
// that are ordinary build output are silently skipped.
func Extract(log []byte) Totals {
	var sum Totals
	scanner := bufio.NewScanner(bytes.NewReader(log))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var fc fileCoverage
		if err := json.Unmarshal([]byte(line), &fc); err != nil {
			continue
		}
		sum.Total += fc.Total
		sum.WithDocs += fc.WithDocs
	}
	return sum
}
