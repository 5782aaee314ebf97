package logstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/dataguard/internal/sink"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 19, 14, 3, 5, 123456789, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAlerts struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingAlerts) Alert(kind string, msg string, err error, attrs ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingAlerts) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

func testConfig(rotation int64) Config {
	cfg := DefaultConfig()
	cfg.RotationBytes = rotation
	cfg.RetryInterval = 0
	cfg.SinkRetries = 1
	cfg.SinkTimeout = time.Second
	return cfg
}

func newTestStore(t *testing.T, rotation int64) (*Store, *sink.MemorySink, *fakeClock, *recordingAlerts) {
	t.Helper()
	mem := sink.NewMemorySink()
	clock := &fakeClock{t: testNow}
	alerts := &recordingAlerts{}
	s, err := New(testConfig(rotation), mem, WithClock(clock.Now), WithAlerts(alerts))
	require.NoError(t, err)
	return s, mem, clock, alerts
}

func entryN(n int) string {
	return Entry{
		Severity:  SeverityInfo,
		Category:  CategoryAudit,
		ID:        fmt.Sprintf("e-%03d", n),
		Timestamp: testNow,
		Source:    "test",
		Body:      fmt.Sprintf("payload %03d", n),
	}.Format()
}

func TestEntryFormatGolden(t *testing.T) {
	e := Entry{
		Severity:  SeverityError,
		Category:  CategoryValidation,
		ID:        "entry-1",
		Timestamp: testNow,
		Source:    "validation",
		Body:      "entity=empresa operation=INSERT\nerror razon_social: required field is missing or blank\n",
	}
	g := goldie.New(t)
	g.Assert(t, "entry", []byte(e.Format()))
}

func TestHeaderGolden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "header", []byte(Header("data-governance", "entity-audit_2026-10-19", testNow)))
}

func TestNames(t *testing.T) {
	key := StreamKey(CategoryAudit, testNow)
	assert.Equal(t, "entity-audit_2026-10-19", key)
	assert.Equal(t, "entity-audit_2026-10-19.txt", FileName(key))
	assert.Equal(t, "entity-audit_2026-10-19_1792418585123.txt", RotatedFileName(key, testNow.UnixMilli()))
}

func TestAppendBelowThresholdReconstructsBuffer(t *testing.T) {
	s, _, _, _ := newTestStore(t, DefaultRotationBytes)
	key := StreamKey(CategoryAudit, testNow)

	want := Header("data-governance", key, testNow)
	for i := 1; i <= 20; i++ {
		e := entryN(i)
		s.Append(CategoryAudit, e)
		want += e + "\n"
	}

	got, ok := s.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, want, got)

	st, ok := s.Stat(key)
	require.True(t, ok)
	assert.Equal(t, StateAccumulating, st.State)
	assert.Equal(t, 20, st.Entries)
	assert.Zero(t, st.Rotations)
}

func TestFirstAppendIsCreated(t *testing.T) {
	s, _, _, _ := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	st, ok := s.Stat(StreamKey(CategoryAudit, testNow))
	require.True(t, ok)
	assert.Equal(t, StateCreated, st.State)
}

func TestRotationSealsPreviousAppends(t *testing.T) {
	key := StreamKey(CategoryAudit, testNow)
	header := Header("data-governance", key, testNow)
	blockLen := len(entryN(1)) + 1
	// exactly three entries fit
	s, mem, _, _ := newTestStore(t, int64(len(header)+3*blockLen))

	for i := 1; i <= 3; i++ {
		s.Append(CategoryAudit, entryN(i))
	}
	assert.Empty(t, mem.Names(), "no rotation below threshold")

	s.Append(CategoryAudit, entryN(4))

	rotatedName := RotatedFileName(key, testNow.UnixMilli())
	rotated, ok := mem.Get(rotatedName)
	require.True(t, ok, "rotated segment written as %s", rotatedName)
	assert.Equal(t, header+entryN(1)+"\n"+entryN(2)+"\n"+entryN(3)+"\n", rotated)

	live, ok := s.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, header+entryN(4)+"\n", live)

	st, _ := s.Stat(key)
	assert.Equal(t, 1, st.Rotations)
	assert.Equal(t, StateAccumulating, st.State)
}

func TestRotatedNamesStayUniqueWithinOneMillisecond(t *testing.T) {
	key := StreamKey(CategoryAudit, testNow)
	header := Header("data-governance", key, testNow)
	s, mem, _, _ := newTestStore(t, int64(len(header)+len(entryN(1))+1))

	for i := 1; i <= 4; i++ {
		s.Append(CategoryAudit, entryN(i))
	}

	ms := testNow.UnixMilli()
	assert.Equal(t, []string{
		RotatedFileName(key, ms),
		RotatedFileName(key, ms+1),
		RotatedFileName(key, ms+2),
	}, mem.Writes())
}

func TestOversizedSingleEntryIsNotSplit(t *testing.T) {
	s, mem, _, _ := newTestStore(t, 64)
	big := strings.Repeat("x", 500)
	s.Append(CategoryAudit, big)

	live, ok := s.Snapshot(StreamKey(CategoryAudit, testNow))
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(live, big+"\n"))
	assert.Empty(t, mem.Names(), "header-only segment is never sealed")
}

func TestFlushIsIdempotent(t *testing.T) {
	s, mem, _, _ := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryRisk, entryN(1))
	key := StreamKey(CategoryRisk, testNow)

	ctx := context.Background()
	require.NoError(t, s.Flush(ctx, key))
	first, ok := mem.Get(FileName(key))
	require.True(t, ok)
	require.NoError(t, s.Flush(ctx, key))
	second, _ := mem.Get(FileName(key))
	assert.Equal(t, first, second)

	live, _ := s.Snapshot(key)
	assert.Equal(t, live, second)

	require.Error(t, s.Flush(ctx, "missing_2026-10-19"))
}

func TestSinkFailureKeepsSegmentUntilFlush(t *testing.T) {
	key := StreamKey(CategoryAudit, testNow)
	header := Header("data-governance", key, testNow)
	s, mem, _, alerts := newTestStore(t, int64(len(header)+len(entryN(1))+1))

	// one attempt plus one retry
	mem.FailNext(2, errors.New("disk full"))
	s.Append(CategoryAudit, entryN(1))
	s.Append(CategoryAudit, entryN(2))

	assert.Empty(t, mem.Names())
	st, _ := s.Stat(key)
	assert.Equal(t, 1, st.PendingSegments)
	assert.Contains(t, alerts.Kinds(), "sink_write_failed")

	require.NoError(t, s.FlushAll(context.Background()))
	rotated, ok := mem.Get(RotatedFileName(key, testNow.UnixMilli()))
	require.True(t, ok)
	assert.Equal(t, header+entryN(1)+"\n", rotated)
	live, ok := mem.Get(FileName(key))
	require.True(t, ok)
	assert.Equal(t, header+entryN(2)+"\n", live)
}

func TestSinkRetrySucceedsAfterTransientFailure(t *testing.T) {
	s, mem, _, alerts := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	mem.FailNext(1, errors.New("timeout"))

	require.NoError(t, s.FlushAll(context.Background()))
	_, ok := mem.Get(FileName(StreamKey(CategoryAudit, testNow)))
	assert.True(t, ok)
	assert.Empty(t, alerts.Kinds())
}

func TestConcurrentAppendsPreserveOrderAcrossRotation(t *testing.T) {
	s, mem, _, _ := newTestStore(t, 4096)
	key := StreamKey(CategoryAudit, testNow)

	const writers, perWriter = 8, 40
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Append(CategoryAudit, fmt.Sprintf("<w%d-%03d>", w, i))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.FlushAll(context.Background()))

	var history strings.Builder
	for _, name := range mem.Names() {
		if name == FileName(key) {
			continue
		}
		content, _ := mem.Get(name)
		history.WriteString(content)
	}
	live, _ := mem.Get(FileName(key))
	history.WriteString(live)
	all := history.String()

	for w := 0; w < writers; w++ {
		last := -1
		for i := 0; i < perWriter; i++ {
			marker := fmt.Sprintf("<w%d-%03d>\n", w, i)
			require.Equal(t, 1, strings.Count(all, marker), marker)
			idx := strings.Index(all, marker)
			require.Greater(t, idx, last, "order of %s", marker)
			last = idx
		}
	}
}

func TestFlushAllRetiresPastDates(t *testing.T) {
	s, mem, clock, _ := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	yesterday := StreamKey(CategoryAudit, testNow)

	clock.Advance(24 * time.Hour)
	s.Append(CategoryAudit, entryN(2))
	today := StreamKey(CategoryAudit, clock.Now())

	require.NoError(t, s.FlushAll(context.Background()))
	assert.Equal(t, []string{today}, s.Keys())
	_, ok := mem.Get(FileName(yesterday))
	assert.True(t, ok)
}

func TestLateAppendAfterRetirementKeepsFinalFile(t *testing.T) {
	s, mem, clock, _ := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	yesterday := StreamKey(CategoryAudit, testNow)

	clock.Advance(24 * time.Hour)
	require.NoError(t, s.FlushAll(context.Background()))
	final, ok := mem.Get(FileName(yesterday))
	require.True(t, ok)
	require.Contains(t, final, "payload 001")

	// an append that observed the clock before midnight lands after retirement
	clock.Advance(-24 * time.Hour)
	s.Append(CategoryAudit, entryN(2))
	assert.Equal(t, []string{yesterday}, s.Keys())
	clock.Advance(24 * time.Hour)
	require.NoError(t, s.FlushAll(context.Background()))

	got, _ := mem.Get(FileName(yesterday))
	assert.Equal(t, final, got, "final file is never rewritten")

	var late []string
	for _, name := range mem.Names() {
		if strings.HasPrefix(name, yesterday+"_") {
			late = append(late, name)
		}
	}
	require.Len(t, late, 1)
	body, _ := mem.Get(late[0])
	assert.Contains(t, body, "payload 002")
	assert.NotContains(t, body, "payload 001")
	assert.Empty(t, s.Keys())

	// a second flush with nothing new writes nothing more
	writes := len(mem.Writes())
	require.NoError(t, s.FlushAll(context.Background()))
	assert.Len(t, mem.Writes(), writes)
}

func TestPastDateStreamWithFailedFlushIsNotRetired(t *testing.T) {
	s, mem, clock, _ := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	yesterday := StreamKey(CategoryAudit, testNow)

	clock.Advance(24 * time.Hour)
	mem.FailNext(2, errors.New("bucket offline"))
	require.Error(t, s.FlushAll(context.Background()))
	assert.Equal(t, []string{yesterday}, s.Keys())
	live, ok := s.Snapshot(yesterday)
	require.True(t, ok)
	assert.Contains(t, live, "payload 001")

	require.NoError(t, s.FlushAll(context.Background()))
	got, _ := mem.Get(FileName(yesterday))
	assert.Contains(t, got, "payload 001")
	assert.Empty(t, s.Keys())
}

func TestCloseMarksFinalAndAlertsLateAppends(t *testing.T) {
	s, _, _, alerts := newTestStore(t, DefaultRotationBytes)
	s.Append(CategoryAudit, entryN(1))
	key := StreamKey(CategoryAudit, testNow)

	require.NoError(t, s.Close(context.Background()))
	st, _ := s.Stat(key)
	assert.Equal(t, StateFlushedFinal, st.State)

	s.Append(CategoryAudit, entryN(2))
	assert.Contains(t, alerts.Kinds(), "append_after_close")
	live, _ := s.Snapshot(key)
	assert.Contains(t, live, "payload 002", "late appends are still buffered")
}

func TestEmptyCategoryFallsBack(t *testing.T) {
	s, _, _, _ := newTestStore(t, DefaultRotationBytes)
	s.Append("  ", "orphan")
	_, ok := s.Snapshot(StreamKey("uncategorized", testNow))
	assert.True(t, ok)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.RotationBytes = 0
	require.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.SinkRetries = 0
	require.Error(t, bad.Validate())
}
