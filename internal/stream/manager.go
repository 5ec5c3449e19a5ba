// Package stream tracks the streams being demultiplexed by one process,
// providing create/remove/list operations used by the command-line driver.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/esfeed/internal/pipeline"
)

// Stream is one input being fed through a pipeline.
type Stream struct {
	Key       string
	Path      string
	StartedAt time.Time
	Pipeline  *pipeline.Pipeline
	done      chan struct{}
}

// Done is closed when the stream is removed from its Manager.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Manager manages the lifecycle of active streams.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	streams  map[string]*Stream
	finished []pipeline.Stats
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream for path. Returns the stream and true if
// created, or nil and false if a stream with this key already exists.
func (m *Manager) Create(key, path string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		Path:      path,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "path", path)
	return s, true
}

// Remove removes a stream from the manager. The final stats of its
// pipeline, if one was attached, are kept for Finished.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
		if s.Pipeline != nil {
			m.finished = append(m.finished, s.Pipeline.Stats())
		}
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key, "duration", time.Since(s.StartedAt))
	}
}

// List returns all active streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}

// Finished returns the final stats of every removed stream that had a
// pipeline, ordered by key.
func (m *Manager) Finished() []pipeline.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]pipeline.Stats, len(m.finished))
	copy(out, m.finished)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
