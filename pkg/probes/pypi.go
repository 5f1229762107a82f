package probes

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// pypiAPIBase is the JSON index endpoint.
const pypiAPIBase = "https://pypi.org"

// pypiSourcePattern pulls the project name out of a source-archive URL
// template like https://pypi.io/packages/source/f/foo/foo-....tar.gz.
var pypiSourcePattern = regexp.MustCompile(`/packages/source/[^/]/([^/]+)/`)

// PyPI probes the python registry's JSON index.
type PyPI struct {
	// APIBase overrides the index endpoint, for tests.
	APIBase string

	Client *http.Client
}

// NewPyPI returns the registry prober with production defaults.
func NewPyPI() *PyPI {
	return &PyPI{APIBase: pypiAPIBase, Client: newHTTPClient()}
}

func (p *PyPI) Name() string { return "pypi" }

// pypiIndex is the subset of the JSON index document we read.
type pypiIndex struct {
	Releases map[string][]json.RawMessage `json:"releases"`
}

// Probe implements Prober. The project name comes from the source URL
// when it carries one, falling back to the package name.
func (p *PyPI) Probe(ctx context.Context, rec *model.PackageRecord) Outcome {
	project := rec.Name
	if m := pypiSourcePattern.FindStringSubmatch(rec.SourceURL); m != nil {
		project = m[1]
	}

	body, err := fetch(ctx, p.Client, joinURL(p.APIBase, "pypi", project, "json"))
	if err != nil {
		return Unavailable("pypi index: %v", err)
	}

	var index pypiIndex
	if err := json.Unmarshal(body, &index); err != nil {
		return Unavailable("decode pypi index: %v", err)
	}

	candidates := make([]string, 0, len(index.Releases))

	for version, files := range index.Releases {
		// Yanked or empty releases have no files.
		if len(files) == 0 {
			continue
		}

		candidates = append(candidates, version)
	}

	return selectLatest(candidates, rec.Version, rec.PreRelease)
}
