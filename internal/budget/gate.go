// Package budget gates scheduler progress on wall-clock, disk, and
// memory headroom. The scheduler checks the gate before every node and
// breaks out of its loop on the first refusal.
package budget

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Size unit multipliers.
const (
	KiB = int64(1) << 10
	MiB = int64(1) << 20
	GiB = int64(1) << 30
)

// Defaults applied when the operator configures nothing.
const (
	// DefaultTimeout bounds one scheduler run; cron fires the next one.
	DefaultTimeout = 2 * time.Hour

	// DefaultDiskFloor keeps enough space for working trees and the
	// file cache.
	DefaultDiskFloor = 2 * GiB

	// DefaultMemoryFloor keeps the re-render subprocess from being
	// OOM-killed mid-flight.
	DefaultMemoryFloor = 1 * GiB
)

// Budget refusal reasons. The scheduler logs them and stops cleanly.
var (
	ErrDeadlineExceeded = errors.New("budget: wall-clock budget exhausted")
	ErrDiskLow          = errors.New("budget: free disk below floor")
	ErrMemoryLow        = errors.New("budget: available memory below floor")
)

// Gate is a point-in-time resource check.
type Gate struct {
	deadline    time.Time
	diskPath    string
	diskFloor   int64
	memoryFloor int64

	// now/freeDisk/availableMemory are swappable for tests.
	now             func() time.Time
	freeDisk        func(path string) (int64, error)
	availableMemory func() (int64, error)
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout sets the wall-clock budget from now.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gate) { g.deadline = g.now().Add(timeout) }
}

// WithDiskFloor sets the free-disk floor checked at path.
func WithDiskFloor(path string, floor int64) Option {
	return func(g *Gate) {
		g.diskPath = path
		g.diskFloor = floor
	}
}

// WithMemoryFloor sets the available-memory floor.
func WithMemoryFloor(floor int64) Option {
	return func(g *Gate) { g.memoryFloor = floor }
}

// NewGate builds a gate with the defaults and applies opts.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		diskPath:        ".",
		diskFloor:       DefaultDiskFloor,
		memoryFloor:     DefaultMemoryFloor,
		now:             time.Now,
		freeDisk:        freeDisk,
		availableMemory: availableMemory,
	}
	g.deadline = g.now().Add(DefaultTimeout)

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Check returns nil while every budget holds. The returned error wraps
// one of the refusal sentinels with a humanized measurement.
func (g *Gate) Check() error {
	if !g.now().Before(g.deadline) {
		return fmt.Errorf("%w (deadline %s)", ErrDeadlineExceeded,
			g.deadline.Format(time.RFC3339))
	}

	free, err := g.freeDisk(g.diskPath)
	if err != nil {
		return fmt.Errorf("stat disk: %w", err)
	}

	if free < g.diskFloor {
		return fmt.Errorf("%w (%s free, floor %s)", ErrDiskLow,
			humanize.IBytes(uint64(free)), humanize.IBytes(uint64(g.diskFloor)))
	}

	avail, err := g.availableMemory()
	if err != nil {
		return fmt.Errorf("read meminfo: %w", err)
	}

	if avail < g.memoryFloor {
		return fmt.Errorf("%w (%s available, floor %s)", ErrMemoryLow,
			humanize.IBytes(uint64(avail)), humanize.IBytes(uint64(g.memoryFloor)))
	}

	return nil
}

// Remaining reports the wall-clock budget left.
func (g *Gate) Remaining() time.Duration {
	return g.deadline.Sub(g.now())
}

// freeDisk returns the bytes available to unprivileged writes at path.
func freeDisk(path string) (int64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	return int64(fs.Bavail) * fs.Bsize, nil
}

// availableMemory reads MemAvailable from /proc/meminfo.
func availableMemory() (int64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}

		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse meminfo: %w", err)
		}

		return kb * KiB, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return 0, errors.New("meminfo: no MemAvailable line")
}
