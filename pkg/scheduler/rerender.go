package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Rerenderer is the external scaffolding generator collaborator.
type Rerenderer interface {
	// Rerender regenerates the CI scaffolding in treeDir and reports
	// whether anything changed.
	Rerender(ctx context.Context, treeDir string) (bool, error)

	// ToolingVersion is the generator's current version.
	ToolingVersion() string

	// PinningVersion is the current global pinning version.
	PinningVersion() string
}

// ExecRerenderer shells out to the scaffolding generator.
type ExecRerenderer struct {
	// Command is the generator binary, default "conda-smithy".
	Command string

	// Tooling and Pinning identify the installed generator state.
	Tooling string
	Pinning string

	// NoContainers disables sandboxed execution of the generator.
	NoContainers bool
}

var _ Rerenderer = (*ExecRerenderer)(nil)

// Rerender implements Rerenderer.
func (r *ExecRerenderer) Rerender(ctx context.Context, treeDir string) (bool, error) {
	command := r.Command
	if command == "" {
		command = "conda-smithy"
	}

	args := []string{"rerender", "--no-check-uptodate"}
	if r.NoContainers {
		args = append(args, "--feedstock_directory", treeDir)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = treeDir

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("rerender: %w: %s", err,
			strings.TrimSpace(output.String()))
	}

	// The generator prints a no-change notice instead of failing.
	return !strings.Contains(output.String(), "No changes made"), nil
}

func (r *ExecRerenderer) ToolingVersion() string { return r.Tooling }

func (r *ExecRerenderer) PinningVersion() string { return r.Pinning }

// NopRerenderer satisfies the interface without touching the tree; used
// offline and in tests.
type NopRerenderer struct {
	Tooling string
	Pinning string

	// Calls counts Rerender invocations.
	Calls int
}

var _ Rerenderer = (*NopRerenderer)(nil)

func (r *NopRerenderer) Rerender(context.Context, string) (bool, error) {
	r.Calls++

	return false, nil
}

func (r *NopRerenderer) ToolingVersion() string { return r.Tooling }

func (r *NopRerenderer) PinningVersion() string { return r.Pinning }
