// Package logstore is the append-only, stream-keyed log buffer of the
// governance pipeline.
//
// Each (category, date) pair owns one stream. Appends accumulate in memory;
// once a segment would grow past the rotation threshold it is sealed, written
// to the sink under a timestamped name, and the stable key restarts with a
// fresh header. Entries are never split and never reordered, so the rotated
// segments in name order followed by the live buffer reconstruct the full
// history of a stream.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/dataguard/internal/alert"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/animus-labs/dataguard/internal/sink"
	"github.com/cenkalti/backoff/v5"
)

type State string

const (
	StateCreated      State = "CREATED"
	StateAccumulating State = "ACCUMULATING"
	StateRotating     State = "ROTATING"
	StateFlushedFinal State = "FLUSHED_FINAL"
)

const uncategorized = "uncategorized"

type segment struct {
	name    string
	content []byte
}

type stream struct {
	key      string
	category string
	date     string

	mu           sync.Mutex
	buf          []byte
	entries      int
	state        State
	lastRotation int64
	rotations    int
	sealed       []segment

	// appends counts every append; flushed is its value at the last
	// successful flush of the live buffer.
	appends int64
	flushed int64
	// retired marks a past-date stream whose final file is written. Late
	// appends to it are sealed into rotated-style segments so the final
	// file is never overwritten.
	retired bool

	// writeMu serializes sink writes so sealed segments land in order.
	writeMu sync.Mutex
}

// Status describes one live stream.
type Status struct {
	Key             string `json:"key"`
	State           State  `json:"state"`
	SizeBytes       int    `json:"size_bytes"`
	Entries         int    `json:"entries"`
	Rotations       int    `json:"rotations"`
	PendingSegments int    `json:"pending_segments"`
}

type Store struct {
	cfg     Config
	sink    sink.Sink
	logger  *slog.Logger
	alerts  alert.Notifier
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAlerts(n alert.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.alerts = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, sk sink.Sink, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sk == nil {
		return nil, errors.New("sink is required")
	}
	s := &Store{
		cfg:     cfg,
		sink:    sk,
		logger:  slog.New(slog.DiscardHandler),
		alerts:  alert.Nop{},
		now:     time.Now,
		streams: make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write formats e and appends it to its category stream.
func (s *Store) Write(e Entry) {
	s.Append(e.Category, e.Format())
}

// Append adds a formatted entry to the stream for category and today's date.
// It never returns an error: sink failures are retried, kept in memory, and
// reported through the alert notifier.
func (s *Store) Append(category, entry string) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = uncategorized
	}
	now := s.now()
	st, closed := s.stream(category, now)
	if closed {
		s.alerts.Alert(alert.KindAfterClose, "log append after final flush", nil, "category", category)
	}

	block := entry + "\n"

	st.mu.Lock()
	late := st.retired
	if late && len(st.buf) == 0 {
		st.buf = []byte(Header(s.cfg.Subsystem, st.key, now))
	}
	rotated := false
	if st.entries > 0 && int64(len(st.buf)+len(block)) > s.cfg.RotationBytes {
		st.state = StateRotating
		st.seal(now)
		st.buf = []byte(Header(s.cfg.Subsystem, st.key, now))
		rotated = true
	}
	st.buf = append(st.buf, block...)
	st.entries++
	st.appends++
	if st.entries == 1 && !rotated && st.rotations == 0 {
		st.state = StateCreated
	} else {
		st.state = StateAccumulating
	}
	st.mu.Unlock()

	s.metrics.Appended(category, len(block))
	if late {
		s.logger.Info("late append to a retired log stream", "stream", st.key)
	}
	if rotated {
		s.metrics.Rotated(category)
		s.logger.Info("log stream rotated", "stream", st.key)
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SinkTimeout)
		defer cancel()
		// failures stay queued on the stream and are retried by the next flush
		_ = s.drain(ctx, st)
	}
}

// seal moves the live buffer to the queue of segments awaiting the sink.
// The caller holds st.mu and refills st.buf.
func (st *stream) seal(now time.Time) {
	st.sealed = append(st.sealed, segment{
		name:    RotatedFileName(st.key, st.nextRotationMillis(now)),
		content: st.buf,
	})
	st.rotations++
	st.buf = nil
	st.entries = 0
}

func (st *stream) nextRotationMillis(now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= st.lastRotation {
		ms = st.lastRotation + 1
	}
	st.lastRotation = ms
	return ms
}

func (s *Store) stream(category string, now time.Time) (*stream, bool) {
	key := StreamKey(category, now)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	if !ok {
		st = &stream{
			key:      key,
			category: category,
			date:     now.UTC().Format(dateLayout),
			buf:      []byte(Header(s.cfg.Subsystem, key, now)),
			state:    StateCreated,
		}
		s.streams[key] = st
	}
	return st, s.closed
}

func (s *Store) lookup(key string) (*stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	return st, ok
}

// drain writes sealed segments to the sink in rotation order.
func (s *Store) drain(ctx context.Context, st *stream) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	for {
		st.mu.Lock()
		if len(st.sealed) == 0 {
			st.mu.Unlock()
			return nil
		}
		seg := st.sealed[0]
		st.mu.Unlock()

		if err := s.write(ctx, seg.name, seg.content); err != nil {
			s.alerts.Alert(alert.KindSink, "rotated log segment kept in memory", err, "name", seg.name, "bytes", len(seg.content))
			return err
		}

		st.mu.Lock()
		st.sealed = st.sealed[1:]
		st.mu.Unlock()
	}
}

func (s *Store) write(ctx context.Context, name string, content []byte) error {
	start := s.now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxInterval = 5 * s.cfg.RetryInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
		b.MaxInterval = time.Millisecond
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.sink.WriteOrAppend(ctx, name, content)
		if errors.Is(err, sink.ErrInvalidName) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.SinkRetries+1)))
	s.metrics.SinkWrite(err == nil, s.now().Sub(start).Seconds())
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Flush writes the live buffer of key to the sink, after any sealed segments
// still waiting from an earlier rotation. Repeated flushes rewrite the same
// content under the same name.
func (s *Store) Flush(ctx context.Context, key string) error {
	st, ok := s.lookup(key)
	if !ok {
		return fmt.Errorf("unknown stream %q", key)
	}
	return s.flushStream(ctx, st)
}

func (s *Store) flushStream(ctx context.Context, st *stream) error {
	st.mu.Lock()
	if st.retired && st.entries > 0 {
		st.seal(s.now())
	}
	st.mu.Unlock()

	if err := s.drain(ctx, st); err != nil {
		return err
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	st.mu.Lock()
	if st.retired {
		st.mu.Unlock()
		return nil
	}
	content := append([]byte(nil), st.buf...)
	appends := st.appends
	st.mu.Unlock()

	if err := s.write(ctx, FileName(st.key), content); err != nil {
		s.alerts.Alert(alert.KindSink, "log stream flush failed; content kept in memory", err, "stream", st.key)
		return err
	}

	st.mu.Lock()
	st.flushed = max(st.flushed, appends)
	st.mu.Unlock()
	return nil
}

// retire drops the buffer of a past-date stream once its final file holds
// every append. The stream stays registered so late appends for that date
// cannot recreate the key and overwrite the final file.
func (st *stream) retire() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.retired || st.appends != st.flushed || len(st.sealed) > 0 {
		return
	}
	st.retired = true
	st.buf = nil
	st.entries = 0
	st.state = StateFlushedFinal
}

// FlushAll flushes every stream. Streams from earlier dates are retired once
// their final flush succeeds.
func (s *Store) FlushAll(ctx context.Context) error {
	today := s.now().UTC().Format(dateLayout)

	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()
	sort.Slice(streams, func(i, j int) bool { return streams[i].key < streams[j].key })

	var errs []error
	for _, st := range streams {
		if err := s.flushStream(ctx, st); err != nil {
			errs = append(errs, err)
			continue
		}
		if st.date < today {
			st.retire()
		}
	}
	return errors.Join(errs...)
}

// Close performs the final flush of every stream.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.FlushAll(ctx)

	s.mu.Lock()
	for _, st := range s.streams {
		st.mu.Lock()
		if len(st.sealed) == 0 {
			st.state = StateFlushedFinal
		}
		st.mu.Unlock()
	}
	s.mu.Unlock()
	return err
}

// Snapshot returns the live buffer of key.
func (s *Store) Snapshot(key string) (string, bool) {
	st, ok := s.lookup(key)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return string(st.buf), true
}

// Stat reports the state of one stream.
func (s *Store) Stat(key string) (Status, bool) {
	st, ok := s.lookup(key)
	if !ok {
		return Status{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return Status{
		Key:             st.key,
		State:           st.state,
		SizeBytes:       len(st.buf),
		Entries:         st.entries,
		Rotations:       st.rotations,
		PendingSegments: len(st.sealed),
	}, true
}

// Keys lists stream keys in lexical order. Retired streams are listed only
// while they hold late content.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.streams))
	for k, st := range s.streams {
		st.mu.Lock()
		idle := st.retired && st.entries == 0 && len(st.sealed) == 0
		st.mu.Unlock()
		if !idle {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
