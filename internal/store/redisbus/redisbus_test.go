package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"livemeet/internal/domain"
)

type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	lists     map[string][]string
	published chan string
	pushErr   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:    make(map[string]string),
		lists:     make(map[string][]string),
		published: make(chan string, 16),
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Publish(_ context.Context, _ string, message interface{}) *redis.IntCmd {
	f.published <- message.(string)
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		f.lists[key] = append([]string{v.(string)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

type recordingGateway struct {
	startErr error
	ended    []string
}

func (g *recordingGateway) StartSession(context.Context, domain.Session) error { return g.startErr }
func (g *recordingGateway) PauseSession(context.Context, string, time.Time) error {
	return nil
}
func (g *recordingGateway) ResumeSession(context.Context, string, time.Time) error {
	return nil
}
func (g *recordingGateway) EndSession(_ context.Context, id string, _ domain.EndReason, _ time.Time) error {
	g.ended = append(g.ended, id)
	return nil
}
func (g *recordingGateway) InsertTranscript(context.Context, string, domain.TranscriptEvent) error {
	return nil
}
func (g *recordingGateway) InsertAIMessage(context.Context, domain.AIResponseRecord) error {
	return nil
}

func TestLockingGatewayRejectsSecondSession(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	gw := NewLockingGateway(&recordingGateway{}, rdb, 0, nil)
	ctx := context.Background()

	if err := gw.StartSession(ctx, domain.Session{ID: "s1", MeetingID: "m1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := gw.StartSession(ctx, domain.Session{ID: "s2", MeetingID: "m1"})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.SessionID != "s1" {
		t.Fatalf("expected conflict naming s1, got %v", err)
	}

	if err := gw.EndSession(ctx, "s1", domain.EndReasonUser, time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if rdb.has(meetingLockKey("m1")) {
		t.Fatalf("expected lock to be released")
	}
	if err := gw.StartSession(ctx, domain.Session{ID: "s2", MeetingID: "m1"}); err != nil {
		t.Fatalf("start after end: %v", err)
	}
}

func TestLockingGatewayReleasesLockWhenStartFails(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	gw := NewLockingGateway(&recordingGateway{startErr: errors.New("disk full")}, rdb, 0, nil)

	if err := gw.StartSession(context.Background(), domain.Session{ID: "s1", MeetingID: "m1"}); err == nil {
		t.Fatalf("expected start error")
	}
	if rdb.has(meetingLockKey("m1")) {
		t.Fatalf("failed start should not keep the lock")
	}
}

func TestLockingGatewayKeepsForeignLock(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	gw := NewLockingGateway(&recordingGateway{}, rdb, 0, nil)
	ctx := context.Background()
	if err := gw.StartSession(ctx, domain.Session{ID: "s1", MeetingID: "m1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// another process took over after the lock expired
	rdb.mu.Lock()
	rdb.values[meetingLockKey("m1")] = "other"
	rdb.mu.Unlock()

	if err := gw.EndSession(ctx, "s1", domain.EndReasonUser, time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if !rdb.has(meetingLockKey("m1")) {
		t.Fatalf("lock held by another session must survive")
	}
}

func TestPublisherPublishesEnvelopes(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	p := NewPublisher(rdb, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.SessionError("s1", domain.ErrorCodeAIStream, "closed")

	select {
	case raw := <-rdb.published:
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type != "session_error" || env.SessionID != "s1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing published")
	}
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	p := NewPublisher(newFakeRedis(), nil)
	for i := 0; i < publishBufferSize+10; i++ {
		p.TriggerFired("s1", domain.TriggerEvent{Type: domain.TriggerQuestion})
	}
	if got := len(p.queue); got != publishBufferSize {
		t.Fatalf("expected a full queue, got %d", got)
	}
}

func TestSummaryQueueDedupsBySession(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	q := NewSummaryQueue(rdb, nil)
	session := domain.Session{ID: "s1", MeetingID: "m1", StartedAt: time.Unix(100, 0)}

	for i := 0; i < 2; i++ {
		if err := q.RequestSummary(context.Background(), session, domain.EndReasonIdleTimeout); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	tasks := rdb.lists[SummaryQueueKey]
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	var task SummaryTask
	if err := json.Unmarshal([]byte(tasks[0]), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.SessionID != "s1" || task.Reason != domain.EndReasonIdleTimeout || task.ID == "" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestSummaryQueueAllowsRetryAfterPushFailure(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	rdb.pushErr = errors.New("READONLY")
	q := NewSummaryQueue(rdb, nil)
	session := domain.Session{ID: "s1", MeetingID: "m1"}

	if err := q.RequestSummary(context.Background(), session, domain.EndReasonUser); err == nil {
		t.Fatalf("expected push error")
	}
	rdb.mu.Lock()
	rdb.pushErr = nil
	rdb.mu.Unlock()
	if err := q.RequestSummary(context.Background(), session, domain.EndReasonUser); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(rdb.lists[SummaryQueueKey]) != 1 {
		t.Fatalf("expected the retry to enqueue")
	}
}
