package probes

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// npmAPIBase is the registry document endpoint.
const npmAPIBase = "https://registry.npmjs.org"

// NPM probes registries exposing the npm-style package document: one
// JSON object whose "versions" map keys every published version.
type NPM struct {
	// APIBase overrides the registry endpoint, for tests.
	APIBase string

	Client *http.Client
}

// NewNPM returns the registry prober with production defaults.
func NewNPM() *NPM {
	return &NPM{APIBase: npmAPIBase, Client: newHTTPClient()}
}

func (p *NPM) Name() string { return "npm" }

// npmDocument is the subset of the registry document we read.
type npmDocument struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// Probe implements Prober.
func (p *NPM) Probe(ctx context.Context, rec *model.PackageRecord) Outcome {
	body, err := fetch(ctx, p.Client, joinURL(p.APIBase, rec.Name))
	if err != nil {
		return Unavailable("registry document: %v", err)
	}

	var doc npmDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return Unavailable("decode registry document: %v", err)
	}

	candidates := make([]string, 0, len(doc.Versions))
	for version := range doc.Versions {
		candidates = append(candidates, version)
	}

	return selectLatest(candidates, rec.Version, rec.PreRelease)
}
