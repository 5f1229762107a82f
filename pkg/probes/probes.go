// Package probes discovers the latest upstream version of a package.
//
// Each prober is a strategy over one source kind; Deduce picks the
// strategy by inspecting the recipe's source URL template. All probers
// share the candidate-selection rule: take the maximum version under the
// ecosystem ordering, drop pre-releases unless the package opts in, and
// never report a candidate below the currently published version.
package probes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/vercmp"
)

// Probe outcome kinds.
type OutcomeKind int

const (
	// OutcomeFound carries a version strictly newer than the current one.
	OutcomeFound OutcomeKind = iota

	// OutcomeUnchanged means the source was reachable and holds nothing
	// newer.
	OutcomeUnchanged

	// OutcomeUnavailable means the source could not be read or parsed.
	OutcomeUnavailable
)

// Outcome is a prober's verdict for one package.
type Outcome struct {
	Kind    OutcomeKind
	Version string
	Reason  string
}

// Found builds a success outcome.
func Found(version string) Outcome {
	return Outcome{Kind: OutcomeFound, Version: version}
}

// Unchanged is the nothing-newer outcome.
func Unchanged() Outcome {
	return Outcome{Kind: OutcomeUnchanged}
}

// Unavailable builds a failure outcome with a reason for the record.
func Unavailable(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeUnavailable, Reason: fmt.Sprintf(format, args...)}
}

// Prober is one upstream version discovery strategy.
type Prober interface {
	// Name identifies the strategy in logs and records.
	Name() string

	// Probe inspects the upstream source for rec and reports the latest
	// version. Network and parse failures come back as Unavailable, not
	// as an error return.
	Probe(ctx context.Context, rec *model.PackageRecord) Outcome
}

// ErrNoSourceURL is returned by Deduce when a record carries no source.
var ErrNoSourceURL = errors.New("package record has no source url")

// httpTimeout bounds every probe request.
const httpTimeout = 30 * time.Second

// newHTTPClient is the default client for probers.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// Deduce picks the prober for a record by inspecting its source URL
// template. Recognized hosts get their dedicated strategy; everything
// else falls back to directory-listing scraping.
func Deduce(rec *model.PackageRecord) (Prober, error) {
	if rec.SourceURL == "" {
		return nil, ErrNoSourceURL
	}

	host := urlHost(rec.SourceURL)

	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return NewGitTags(), nil
	case host == "pypi.io" || host == "pypi.org" ||
		strings.HasSuffix(host, "pythonhosted.org"):
		return NewPyPI(), nil
	case strings.HasSuffix(host, "npmjs.org") || strings.HasSuffix(host, "npmjs.com"):
		return NewNPM(), nil
	default:
		return NewRawListing(), nil
	}
}

// urlHost extracts the hostname from a URL template, tolerating the
// template slots that url.Parse chokes on.
func urlHost(raw string) string {
	rest, ok := strings.CutPrefix(raw, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(raw, "http://")
		if !ok {
			return ""
		}
	}

	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}

	return rest
}

// selectLatest applies the shared candidate rule: drop pre-releases
// unless allowed, take the maximum, and compare against current.
func selectLatest(candidates []string, current string, allowPre bool) Outcome {
	best := ""

	for _, cand := range candidates {
		cand = strings.TrimSpace(cand)
		if cand == "" {
			continue
		}

		if !allowPre && vercmp.Parse(cand).IsPreRelease() {
			continue
		}

		if best == "" || vercmp.Less(best, cand) {
			best = cand
		}
	}

	if best == "" {
		return Unavailable("no acceptable version candidates")
	}

	if current != "" && !vercmp.Less(current, best) {
		return Unchanged()
	}

	return Found(best)
}

// fetch GETs a URL and returns the body, mapping every failure mode to a
// descriptive error for the Unavailable reason.
func fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", urlHost(rawURL), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// joinURL resolves a path against a base endpoint.
func joinURL(base string, elems ...string) string {
	out, err := url.JoinPath(base, elems...)
	if err != nil {
		return base + "/" + strings.Join(elems, "/")
	}

	return out
}
