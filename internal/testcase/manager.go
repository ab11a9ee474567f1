package testcase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/zjy-dev/concolic-fuzz/internal/logger"
)

const (
	// QueueDir holds one file per test case, named per naming.go.
	QueueDir = "queue"
	// CrashDir duplicates cases with IsCrash or IsHang set.
	CrashDir = "crashes_or_hangs"

	lockRetries  = 3
	lockInterval = 100 * time.Millisecond
	lockTimeout  = lockRetries * lockInterval
)

// Manager owns the test-case map by id, the next-id counter, the output
// directory, and persistence.
type Manager struct {
	mu      sync.Mutex
	baseDir string
	nextID  uint64
	cases   map[uint64]*TestCase
	log     *logger.Logger
}

// NewManager creates a corpus manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		cases:   map[uint64]*TestCase{},
		log:     logger.Component("corpus"),
	}
}

// Initialize creates the on-disk directory structure.
func (m *Manager) Initialize() error {
	for _, d := range []string{QueueDir, CrashDir} {
		if err := os.MkdirAll(filepath.Join(m.baseDir, d), 0755); err != nil {
			return fmt.Errorf("testcase: creating %s: %w", d, err)
		}
	}
	return nil
}

// Recover scans the queue directory to rebuild the in-memory map and the
// next-id counter, logging checkpoint/resume status (grounded in the
// teacher's corpus.FileManager.Recover).
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(m.baseDir, QueueDir))
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Info("[FRESH START] no queue directory found, starting fresh")
			return nil
		}
		return fmt.Errorf("testcase: reading queue dir: %w", err)
	}

	var maxID uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.baseDir, QueueDir, e.Name()))
		if err != nil {
			m.log.Warn("skipping unreadable case file %s: %v", e.Name(), err)
			continue
		}
		tc, err := Unmarshal(data)
		if err != nil {
			m.log.Warn("skipping unparsable case file %s: %v", e.Name(), err)
			continue
		}
		m.cases[tc.ID] = tc
		if tc.ID > maxID {
			maxID = tc.ID
		}
	}
	m.nextID = maxID

	if len(m.cases) == 0 {
		m.log.Info("[FRESH START] queue directory empty, starting fresh")
	} else {
		m.log.Info("[RESUME] recovered %d test cases from checkpoint, next id %d", len(m.cases), m.nextID+1)
	}
	return nil
}

// AllocateID serializes id allocation for new children across parallel
// solve+execute tasks: ids are handed out strictly in allocation-call
// order under this lock.
func (m *Manager) AllocateID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// MarkSelected increments the parent's selected_cnt exactly once per
// scheduler selection (not once per branch the summarizer later emits from
// that selection) — the Open Question resolution recorded in SPEC_FULL.md.
func (m *Manager) MarkSelected(parentID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cases[parentID]; ok {
		p.SelectedCount++
	}
}

// MarkSuccessfulGeneration increments the parent's successful_generation_cnt
// once per descendant that finishes valuable (is_target_covered or
// new_coverage).
func (m *Manager) MarkSuccessfulGeneration(parentID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cases[parentID]; ok {
		p.SuccessfulGenerationCount++
	}
}

// Get retrieves a case by id.
func (m *Manager) Get(id uint64) (*TestCase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cases[id]
	return t, ok
}

// Put persists a test case (new or updated) to disk and records it in the
// in-memory map. Writes are lock-then-write, with up to 3 retries 100ms
// apart. Crash/hang cases are duplicated into CrashDir.
func (m *Manager) Put(t *TestCase) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}

	ext := "yaml"
	name := Filename(t, ext)
	path := filepath.Join(m.baseDir, QueueDir, name)

	if err := writeLocked(path, data); err != nil {
		return err
	}

	if t.IsCrash || t.IsHang {
		crashPath := filepath.Join(m.baseDir, CrashDir, name)
		if err := writeLocked(crashPath, data); err != nil {
			m.log.Warn("failed to duplicate crash/hang case %d: %v", t.ID, err)
		}
	}

	m.mu.Lock()
	m.cases[t.ID] = t
	m.mu.Unlock()
	return nil
}

// writeLocked acquires an exclusive advisory lock on path+".lock", retrying
// up to lockRetries times 100ms apart, then writes data.
func writeLocked(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("testcase: creating directory for %s: %w", path, err)
	}

	fl := flock.New(path + ".lock")
	var locked bool
	var err error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		locked, err = fl.TryLock()
		if err == nil && locked {
			break
		}
		time.Sleep(lockInterval)
	}
	if !locked {
		return fmt.Errorf("testcase: could not acquire lock for %s after %d retries: %w", path, lockRetries, err)
	}
	defer fl.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("testcase: writing %s: %w", path, err)
	}
	return nil
}

// Len returns the number of cases tracked in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cases)
}

// AllIDsSorted returns every known id in ascending order, for deterministic
// iteration.
func (m *Manager) AllIDsSorted() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.cases))
	for id := range m.cases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
