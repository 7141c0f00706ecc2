// Package manifest parses the hub reference list served by the remote
// authority. Each reference line carries one quoted tuple:
//
//	"SuperMap" "http" "cdn.example.com/map1" "d41d8cd98f00b204e9800998ecf8427e"
//
// The same raw lines are later written verbatim into Game.ini.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/schaermu/hubsyncd/internal/pak"
)

var quotedToken = regexp.MustCompile(`"([A-Za-z0-9_./\\-]*)"`)

// Entry is one parsed reference line
type Entry struct {
	Name      string // package file name, extension included
	Transport string // e.g. http, https
	URL       string // location without scheme
	Checksum  string // md5 hex digest of the package
	Raw       string // reference line as served
	Line      int    // 1-based line number in the manifest body
}

// SourceURL returns the full download URL of the entry
func (e Entry) SourceURL() string {
	return e.Transport + "://" + e.URL
}

// Manifest is the ordered list of entries as served by the remote authority
type Manifest []Entry

// Names returns the package names in manifest order
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for _, e := range m {
		names = append(names, e.Name)
	}
	return names
}

// References returns the raw reference lines in manifest order
func (m Manifest) References() []string {
	refs := make([]string, 0, len(m))
	for _, e := range m {
		refs = append(refs, e.Raw)
	}
	return refs
}

// ParseError reports a reference line that does not yield a full tuple
type ParseError struct {
	Line   int
	Text   string
	Tokens int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: expected 4 quoted fields, found %d: %q", e.Line, e.Tokens, e.Text)
}

// ParseLine extracts name, transport, url and checksum from a reference line.
// Tokens beyond the fourth are ignored.
func ParseLine(line string, lineNo int) (Entry, error) {
	matches := quotedToken.FindAllStringSubmatch(line, -1)
	if len(matches) < 4 {
		return Entry{}, &ParseError{Line: lineNo, Text: line, Tokens: len(matches)}
	}

	return Entry{
		Name:      matches[0][1] + pak.Extension,
		Transport: matches[1][1],
		URL:       matches[2][1],
		Checksum:  matches[3][1],
		Raw:       line,
		Line:      lineNo,
	}, nil
}

// Parse turns reference lines into a Manifest. Blank lines are skipped; the
// first malformed line aborts parsing.
func Parse(lines []string) (Manifest, error) {
	m := make(Manifest, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := ParseLine(line, i+1)
		if err != nil {
			return nil, err
		}
		m = append(m, entry)
	}
	return m, nil
}

// ReadLines splits a manifest body into lines without line terminators
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return lines, nil
}
