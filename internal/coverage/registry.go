// Package coverage implements the process-wide coverage registry: a
// mapping from normalized file path to a trace collector, created lazily,
// with binary persistence for checkpoint/resume. Registry is an explicit
// object threaded through the orchestrator and agents rather than global
// state, so it can be shared safely across concurrent callers.
package coverage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zjy-dev/concolic-fuzz/internal/trace"
)

// Registry maps each instrumented source file to its trace collector.
type Registry struct {
	mu         sync.Mutex
	collectors map[string]*trace.Collector
	sources    map[string]string // path -> original instrumented source, needed to rebuild a collector

	saveMu      sync.Mutex
	saveInFlight chan struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		collectors: map[string]*trace.Collector{},
		sources:    map[string]string{},
	}
}

func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Has reports whether a collector already exists for path.
func (r *Registry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.collectors[normalize(path)]
	return ok
}

// Get returns the collector for path, lazily reading and parsing the file's
// instrumented source on first mention.
func (r *Registry) Get(path string) (*trace.Collector, error) {
	key := normalize(path)

	r.mu.Lock()
	if c, ok := r.collectors[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("coverage: reading instrumented source %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collectors[key]; ok {
		return c, nil // another goroutine beat us to it
	}
	c := trace.New(path, string(src))
	r.collectors[key] = c
	r.sources[key] = string(src)
	return c, nil
}

// GetFromSource is like Get but supplies the instrumented source directly,
// for callers (tests, replay) that already have it in memory rather than
// on disk.
func (r *Registry) GetFromSource(path, source string) *trace.Collector {
	key := normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collectors[key]; ok {
		return c
	}
	c := trace.New(path, source)
	r.collectors[key] = c
	r.sources[key] = source
	return c
}

// CollectResult is the outcome of ingesting one trace against one file.
type CollectResult struct {
	NewlyCoveredByBlock map[trace.BlockKey]int
	TargetCovered       bool
	HasTarget           bool
}

// CollectTrace ingests rawTrace against the collector for path, serializing
// all calls for that path. targetStartReal/targetEndReal of 0 mean "no
// target lines provided".
func (r *Registry) CollectTrace(path, rawTrace string, targetStartReal, targetEndReal int) (CollectResult, error) {
	c, err := r.Get(path)
	if err != nil {
		return CollectResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res := CollectResult{}
	if targetStartReal > 0 && targetEndReal >= targetStartReal {
		res.HasTarget = true
		res.TargetCovered = c.TargetCovered(targetStartReal, targetEndReal, rawTrace)
		return res, nil
	}
	res.NewlyCoveredByBlock = c.CollectTrace(rawTrace)
	return res, nil
}

// snapshot is the gob-serializable deep copy of a registry, used by Save's
// async deep-snapshot-then-write design.
type snapshot struct {
	Sources map[string]string
	Hits    map[string]map[trace.BlockKey]int // path -> block -> hit count
}

// Save persists the registry. When async is true, a deep snapshot is taken
// synchronously (so the caller's subsequent mutations cannot race the
// write), and the actual write happens on a background goroutine; a prior
// outstanding save must complete before a new one starts.
func (r *Registry) Save(path string, async bool) error {
	r.mu.Lock()
	snap := snapshot{
		Sources: make(map[string]string, len(r.sources)),
		Hits:    make(map[string]map[trace.BlockKey]int, len(r.collectors)),
	}
	for k, v := range r.sources {
		snap.Sources[k] = v
	}
	for k, c := range r.collectors {
		blocks := c.Blocks()
		hits := make(map[trace.BlockKey]int, len(blocks))
		for _, b := range blocks {
			hits[b.Key] = b.Hits
		}
		snap.Hits[k] = hits
	}
	r.mu.Unlock()

	write := func() error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
			return fmt.Errorf("coverage: encoding snapshot: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("coverage: creating directory for %s: %w", path, err)
		}
		return os.WriteFile(path, buf.Bytes(), 0644)
	}

	if !async {
		return write()
	}

	r.saveMu.Lock()
	if prior := r.saveInFlight; prior != nil {
		<-prior // wait for the prior outstanding save to complete
	}
	done := make(chan struct{})
	r.saveInFlight = done
	r.saveMu.Unlock()

	go func() {
		defer close(done)
		if err := write(); err != nil {
			// Async save errors have nowhere synchronous to surface; a future
			// Save/Load call observing a missing/corrupt file is the signal.
			_ = err
		}
	}()
	return nil
}

// Load replaces the registry's contents atomically from a previously saved
// snapshot, reparsing each file's collector from its recorded source.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("coverage: reading snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("coverage: decoding snapshot %s: %w", path, err)
	}

	collectors := make(map[string]*trace.Collector, len(snap.Sources))
	for p, src := range snap.Sources {
		c := trace.New(p, src)
		c.RestoreHits(snap.Hits[p])
		collectors[p] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = snap.Sources
	r.collectors = collectors
	return nil
}
