package ruleset

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/hubsyncd/internal/fsutil"
	"github.com/schaermu/hubsyncd/internal/transfer"
)

// BuildURL returns the generator URL for the given private code and
// ruleset IDs. Commas between IDs stay literal.
func BuildURL(base, privateCode string, ids []string, hideDefaults bool) string {
	escaped := make([]string, 0, len(ids))
	for _, id := range ids {
		escaped = append(escaped, url.QueryEscape(strings.TrimSpace(id)))
	}

	var b strings.Builder
	b.WriteString(base)
	if strings.Contains(base, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("privateCode=")
	b.WriteString(url.QueryEscape(privateCode))
	if hideDefaults {
		b.WriteString("&hideDefaults")
	}
	b.WriteString("&rulesets=")
	b.WriteString(strings.Join(escaped, ","))
	return b.String()
}

// Fetcher downloads the generated ruleset file
type Fetcher struct {
	fs     afero.Fs
	client transfer.Fetcher
	url    string
	dest   string
}

// NewFetcher creates a ruleset fetcher writing to dest
func NewFetcher(fs afero.Fs, client transfer.Fetcher, sourceURL, dest string) *Fetcher {
	return &Fetcher{
		fs:     fs,
		client: client,
		url:    sourceURL,
		dest:   dest,
	}
}

// Fetch downloads the ruleset and replaces the destination file with the
// response body, byte for byte.
func (f *Fetcher) Fetch(ctx context.Context) error {
	err := fsutil.WriteAtomic(f.fs, f.dest, 0644, func(w io.Writer) error {
		return f.client.Fetch(ctx, f.url, w)
	})
	if err != nil {
		return fmt.Errorf("failed to update ruleset %s: %w", f.dest, err)
	}
	return nil
}
