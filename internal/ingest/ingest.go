// Package ingest tracks live network inputs. Each input couples the byte
// stream a transport receiver writes with connection metrics, and is read
// by a demuxer like any other io.Reader.
package ingest

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Stats captures connection-level metrics for one input.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is an active input. Bytes the receiver writes into the pipe are
// returned by Read.
type Stream struct {
	Key       string
	StartedAt time.Time

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Read returns received bytes. It fails with the error the input was
// unregistered with, or io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// RecordRead counts one successful socket read of n bytes.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed once the input is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the connection metrics.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active inputs by key.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register creates an input under key and returns it with the writer the
// receiver should fill. A key can be registered once at a time.
func (r *Registry) Register(key string) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()
	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[key]; ok {
		return nil, nil, fmt.Errorf("ingest: %q already active", key)
	}
	r.streams[key] = s
	return s, pw, nil
}

// Unregister removes the input under key. Pending and later reads fail with
// cause, or io.EOF when cause is nil.
func (r *Registry) Unregister(key string, cause error) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		s.pw.CloseWithError(cause)
		close(s.done)
	}
}

// Get returns the input under key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Stats returns the metrics of every active input keyed by input key.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.streams))
	for k, s := range r.streams {
		out[k] = s.Stats()
	}
	return out
}
