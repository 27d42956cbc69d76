package sandbox

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/gradebox/metrics"
)

// ErrBoxNotAllocated is returned when releasing a box the pool does not own.
var ErrBoxNotAllocated = errors.New("box is not allocated")

// maxNameAttempts bounds the identifier search. Capacity is validated to be
// far below the 1000 available suffixes, so this is never reached in practice.
const maxNameAttempts = 10000

// State is the lifecycle state of a box
type State int32

const (
	StateFree State = iota
	StateAllocated
	StateCleaningUp
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateAllocated:
		return "allocated"
	case StateCleaningUp:
		return "cleaning_up"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Box is one isolated execution environment owned by a single execution
type Box struct {
	ID   string
	Root string

	state   atomic.Int32
	cleaned atomic.Bool
}

// State returns the current lifecycle state of the box
func (b *Box) State() State {
	return State(b.state.Load())
}

// Path joins name onto the box root on the host
func (b *Box) Path(elem ...string) string {
	return filepath.Join(append([]string{b.Root}, elem...)...)
}

// BoxDir is the host directory mounted as /box inside the sandbox
func (b *Box) BoxDir() string {
	return b.Path("box")
}

// PoolConfig holds configuration for the box pool
type PoolConfig struct {
	// Root is the directory under which the isolation tool creates boxes.
	Root string
	// Prefix is the non-zero leading digit group of every box id.
	Prefix int
	// Capacity is the maximum number of concurrently allocated boxes.
	Capacity int
}

// Pool hands out box identifiers, never more than Capacity at a time.
//
// A single mutex covers both the capacity check and the reservation of the
// identifier, so two concurrent Acquire calls can never pick the same name or
// jointly exceed the capacity.
type Pool struct {
	logger *zap.Logger
	config PoolConfig
	fs     FileSystem
	now    func() time.Time

	mu    sync.Mutex
	boxes map[string]*Box
}

// PoolOption defines a functional option for Pool
type PoolOption func(*Pool)

// WithPoolFileSystem sets the FileSystem for Pool
func WithPoolFileSystem(fs FileSystem) PoolOption {
	return func(p *Pool) {
		p.fs = fs
	}
}

// WithPoolClock sets the time source used when deriving box identifiers
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		p.now = now
	}
}

// NewPool creates a new box pool
func NewPool(logger *zap.Logger, config PoolConfig, opts ...PoolOption) *Pool {
	pool := &Pool{
		logger: logger,
		config: config,
		fs:     &RealFileSystem{},
		now:    time.Now,
		boxes:  make(map[string]*Box),
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Acquire reserves a fresh box. ok is false when the pool is at capacity;
// that is an expected outcome, not an error.
func (p *Pool) Acquire() (box *Box, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fs.MkdirAll(p.config.Root, DirPermission); err != nil {
		return nil, false, fmt.Errorf("failed to create box root: %w", err)
	}

	inUse, err := p.countInUse()
	if err != nil {
		return nil, false, err
	}
	if inUse >= p.config.Capacity {
		p.logger.Info("box pool exhausted", zap.Int("in_use", inUse), zap.Int("capacity", p.config.Capacity))
		return nil, false, nil
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id := p.candidateID()
		if _, taken := p.boxes[id]; taken {
			continue
		}
		root := filepath.Join(p.config.Root, id)
		exists, err := p.fs.FileExists(root)
		if err != nil {
			return nil, false, fmt.Errorf("failed to check box directory: %w", err)
		}
		if exists {
			continue
		}

		box := &Box{ID: id, Root: root}
		box.state.Store(int32(StateAllocated))
		p.boxes[id] = box
		metrics.BoxesInUse.Set(float64(len(p.boxes)))

		p.logger.Debug("box acquired", zap.String("box_id", id))
		return box, true, nil
	}

	return nil, false, fmt.Errorf("no free box identifier after %d attempts", maxNameAttempts)
}

// Release returns the box to the pool. Releasing twice reports
// ErrBoxNotAllocated.
func (p *Pool) Release(box *Box) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	owned, ok := p.boxes[box.ID]
	if !ok || owned != box {
		return fmt.Errorf("release box %s: %w", box.ID, ErrBoxNotAllocated)
	}

	delete(p.boxes, box.ID)
	box.state.Store(int32(StateFree))
	metrics.BoxesInUse.Set(float64(len(p.boxes)))

	p.logger.Debug("box released", zap.String("box_id", box.ID))
	return nil
}

// InUse returns the number of boxes allocated by this pool
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.boxes)
}

// Allocated returns the sorted identifiers of the boxes allocated by this pool
func (p *Pool) Allocated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.boxes))
	for id := range p.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// countInUse counts boxes owned by this pool plus foreign box directories
// carrying our prefix, e.g. left behind by another process sharing Root.
// Must be called with p.mu held.
func (p *Pool) countInUse() (int, error) {
	names, err := p.fs.ReadDirNames(p.config.Root)
	if err != nil {
		return 0, fmt.Errorf("failed to list box root: %w", err)
	}

	count := len(p.boxes)
	prefix := strconv.Itoa(p.config.Prefix)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ours := p.boxes[name]; !ours {
			count++
		}
	}
	return count, nil
}

// candidateID combines the prefix with a three digit suffix derived from the
// clock and a random draw.
func (p *Pool) candidateID() string {
	ms := p.now().UnixMilli() % 100000
	suffix := (ms + int64(rand.IntN(1000))) % 1000
	return fmt.Sprintf("%d%03d", p.config.Prefix, suffix)
}
