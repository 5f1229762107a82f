package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plentiful stubs both resource probes well above any floor.
func plentiful(g *Gate) {
	g.freeDisk = func(string) (int64, error) { return 100 * GiB, nil }
	g.availableMemory = func() (int64, error) { return 100 * GiB, nil }
}

func TestGatePassesWithHeadroom(t *testing.T) {
	t.Parallel()

	g := NewGate(WithTimeout(time.Hour))
	plentiful(g)

	assert.NoError(t, g.Check())
	assert.Positive(t, g.Remaining())
}

func TestGateDeadline(t *testing.T) {
	t.Parallel()

	g := NewGate(WithTimeout(time.Hour))
	plentiful(g)

	start := time.Now()
	g.now = func() time.Time { return start.Add(2 * time.Hour) }

	assert.ErrorIs(t, g.Check(), ErrDeadlineExceeded)
	assert.Negative(t, g.Remaining())
}

func TestGateDiskFloor(t *testing.T) {
	t.Parallel()

	g := NewGate(WithTimeout(time.Hour), WithDiskFloor(".", 2*GiB))
	plentiful(g)
	g.freeDisk = func(string) (int64, error) { return 1 * GiB, nil }

	err := g.Check()
	require.ErrorIs(t, err, ErrDiskLow)
	assert.Contains(t, err.Error(), "GiB")
}

func TestGateMemoryFloor(t *testing.T) {
	t.Parallel()

	g := NewGate(WithTimeout(time.Hour), WithMemoryFloor(1*GiB))
	plentiful(g)
	g.availableMemory = func() (int64, error) { return 512 * MiB, nil }

	assert.ErrorIs(t, g.Check(), ErrMemoryLow)
}

func TestGateRealProbes(t *testing.T) {
	t.Parallel()

	// Floors of zero always pass; exercises the real statfs and meminfo
	// paths.
	g := NewGate(WithTimeout(time.Hour), WithDiskFloor(t.TempDir(), 0), WithMemoryFloor(0))

	assert.NoError(t, g.Check())
}
