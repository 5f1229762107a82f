package probes

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/recipe"
)

// archiveExtensions are the tarball suffixes recognized in listings.
const archiveExtensions = `tar\.gz|tar\.bz2|tar\.xz|tgz|zip`

// RawListing probes a plain HTTP directory listing for version-bearing
// archive filenames. It is the fallback strategy for hosts without a
// structured feed.
type RawListing struct {
	Client *http.Client
}

// NewRawListing returns the listing prober with production defaults.
func NewRawListing() *RawListing {
	return &RawListing{Client: newHTTPClient()}
}

func (p *RawListing) Name() string { return "raw_listing" }

// Probe implements Prober. The listing URL is the directory part of the
// rendered source URL; versions are extracted from filenames matching
// <name>-<version>.<archive ext>.
func (p *RawListing) Probe(ctx context.Context, rec *model.PackageRecord) Outcome {
	rendered := recipe.RenderURL(rec.SourceURL, map[string]string{
		"name":    rec.Name,
		"version": rec.Version,
	})

	idx := strings.LastIndexByte(rendered, '/')
	if idx < len("https://") {
		return Unavailable("source url has no directory part")
	}

	listing := rendered[:idx+1]

	body, err := fetch(ctx, p.Client, listing)
	if err != nil {
		return Unavailable("directory listing: %v", err)
	}

	pattern := regexp.MustCompile(
		regexp.QuoteMeta(rec.Name) + `[-_]v?([0-9][0-9a-zA-Z._+]*?)\.(?:` + archiveExtensions + `)`)

	matches := pattern.FindAllStringSubmatch(string(body), -1)
	candidates := make([]string, 0, len(matches))

	for _, m := range matches {
		candidates = append(candidates, m[1])
	}

	return selectLatest(candidates, rec.Version, rec.PreRelease)
}
