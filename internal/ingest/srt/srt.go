// Package srt connects SRT inputs to the ingest registry, either by dialing
// a remote listener (caller mode) or by waiting for one publisher (listener
// mode).
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/playout/internal/ingest"
)

// readBufferSize is ten standard SRT payloads of 7 TS packets each.
const readBufferSize = 1316 * 10

// Config holds SRT connection defaults. Locator query parameters override
// them per connection.
type Config struct {
	Latency     time.Duration
	DialTimeout time.Duration
}

// DefaultConfig returns 120ms latency and a 10s dial timeout.
func DefaultConfig() Config {
	return Config{Latency: 120 * time.Millisecond, DialTimeout: 10 * time.Second}
}

// Mode selects who initiates the SRT handshake.
type Mode string

// Connection modes.
const (
	ModeCaller   Mode = "caller"
	ModeListener Mode = "listener"
)

// Locator is a parsed srt:// URL.
type Locator struct {
	Address  string
	StreamID string
	Mode     Mode
	Latency  time.Duration
}

// Key names the ingest registry entry for the locator.
func (l Locator) Key() string {
	if l.StreamID != "" {
		return extractStreamKey(l.StreamID)
	}
	return l.Address
}

// ParseLocator parses srt://host:port?streamid=..&latency=ms&mode=caller|listener.
// Latency falls back to def when absent.
func ParseLocator(locator string, def time.Duration) (Locator, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return Locator{}, fmt.Errorf("srt: parsing locator: %w", err)
	}
	if u.Scheme != "srt" {
		return Locator{}, fmt.Errorf("srt: scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		return Locator{}, fmt.Errorf("srt: locator %q has no port", locator)
	}

	q := u.Query()
	l := Locator{
		Address:  u.Host,
		StreamID: q.Get("streamid"),
		Mode:     ModeCaller,
		Latency:  def,
	}
	switch m := Mode(strings.ToLower(q.Get("mode"))); m {
	case "", ModeCaller:
	case ModeListener:
		l.Mode = m
	default:
		return Locator{}, fmt.Errorf("srt: unknown mode %q", m)
	}
	if v := q.Get("latency"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Locator{}, fmt.Errorf("srt: latency %q", v)
		}
		l.Latency = time.Duration(ms) * time.Millisecond
	}
	return l, nil
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}

// Caller opens SRT inputs and pumps their bytes into the ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry
	cfg      Config
}

// NewCaller returns a Caller registering inputs in registry. If log is nil,
// slog.Default() is used.
func NewCaller(registry *ingest.Registry, cfg Config, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		cfg:      cfg,
	}
}

// Source is a connected SRT input. Read it until it fails; Close tears the
// connection down.
type Source struct {
	*ingest.Stream

	registry  *ingest.Registry
	cancel    context.CancelFunc
	conn      *srtgo.Conn
	closeOnce sync.Once
}

// Close stops the pump and closes the connection.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
		s.registry.Unregister(s.Key, nil)
	})
	return nil
}

// Opener adapts Open to a plain reader factory.
func (c *Caller) Opener() func(context.Context, string) (io.ReadCloser, error) {
	return func(ctx context.Context, locator string) (io.ReadCloser, error) {
		src, err := c.Open(ctx, locator)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// Open connects to locator and starts streaming in the background.
func (c *Caller) Open(ctx context.Context, locator string) (*Source, error) {
	loc, err := ParseLocator(locator, c.cfg.Latency)
	if err != nil {
		return nil, err
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = loc.Latency
	if loc.StreamID != "" {
		cfg.StreamID = loc.StreamID
	}

	c.log.Info("connecting", "address", loc.Address, "mode", loc.Mode, "stream_id", loc.StreamID)

	var conn *srtgo.Conn
	if loc.Mode == ModeListener {
		l, err := srtgo.Listen(loc.Address, cfg)
		if err != nil {
			return nil, fmt.Errorf("srt: listen on %s: %w", loc.Address, err)
		}
		l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
			if loc.StreamID != "" && extractStreamKey(req.StreamID) != loc.Key() {
				return srtgo.RejPeer
			}
			return 0
		})
		conn, err = c.accept(ctx, l.Accept, func() { l.Close() })
		if err != nil {
			return nil, err
		}
	} else {
		conn, err = dial(ctx, loc.Address, c.cfg.DialTimeout, func() (*srtgo.Conn, error) {
			return srtgo.Dial(loc.Address, cfg)
		})
		if err != nil {
			return nil, err
		}
	}
	return c.startStreaming(ctx, loc, conn)
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// dial runs dialFn bounded by timeout and ctx. A connection that completes
// after the caller gave up is closed in the background.
func dial(ctx context.Context, address string, timeout time.Duration, dialFn func() (*srtgo.Conn, error)) (*srtgo.Conn, error) {
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := dialFn()
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", address, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		go closeLate(ch)
		return nil, fmt.Errorf("srt: dial %s timed out after %s", address, timeout)
	case <-ctx.Done():
		go closeLate(ch)
		return nil, ctx.Err()
	}
}

func closeLate(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

// accept waits for the first publisher the listener lets through, then
// stops listening.
func (c *Caller) accept(ctx context.Context, acceptFn func() (*srtgo.Conn, error), closeListener func()) (*srtgo.Conn, error) {
	closeListener = sync.OnceFunc(closeListener)
	stop := make(chan struct{})
	defer close(stop)
	defer closeListener()
	go func() {
		select {
		case <-ctx.Done():
			closeListener()
		case <-stop:
		}
	}()

	for {
		conn, err := acceptFn()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("accept error", "error", err)
			continue
		}
		c.log.Info("publisher connected", "stream_id", conn.StreamID(), "remote", conn.RemoteAddr())
		return conn, nil
	}
}

func (c *Caller) startStreaming(ctx context.Context, loc Locator, conn *srtgo.Conn) (*Source, error) {
	stream, w, err := c.registry.Register(loc.Key())
	if err != nil {
		conn.Close()
		return nil, err
	}
	if addr := conn.RemoteAddr(); addr != nil {
		stream.SetRemoteAddr(addr.String())
	} else {
		stream.SetRemoteAddr(loc.Address)
	}

	// The pump outlives the open call; Close ends it.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src := &Source{Stream: stream, registry: c.registry, cancel: cancel, conn: conn}

	go func() {
		var cause error
		defer func() {
			conn.Close()
			stats := stream.Stats()
			c.registry.Unregister(stream.Key, cause)
			c.log.Info("input ended", "key", stream.Key,
				"bytes", stats.BytesReceived, "reads", stats.ReadCount,
				"uptime_ms", stats.UptimeMs)
		}()

		buf := make([]byte, readBufferSize)
		for pumpCtx.Err() == nil {
			n, err := conn.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && pumpCtx.Err() == nil {
					cause = fmt.Errorf("srt: read: %w", err)
					c.log.Debug("read error", "key", stream.Key, "error", err)
				}
				return
			}
			stream.RecordRead(n)
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	c.log.Info("connected", "key", stream.Key)
	return src, nil
}
