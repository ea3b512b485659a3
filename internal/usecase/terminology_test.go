package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/terms"
)

type terminologyFixture struct {
	pipeline  *terminologyPipeline
	extractor *fakeExtractor
	explained *terms.ExplainedSet
	events    *fakeEventSink
	queue     chan func()
}

func newTerminologyFixture(t *testing.T, cfg TerminologyConfig) *terminologyFixture {
	t.Helper()
	f := &terminologyFixture{
		extractor: &fakeExtractor{requests: make(chan extractRequest, 8)},
		explained: terms.NewExplainedSet(),
		events:    &fakeEventSink{},
		queue:     make(chan func(), 16),
	}
	post := func(fn func()) bool {
		f.queue <- fn
		return true
	}
	clock := &fakeClock{now: clockBase}
	f.pipeline = newTerminologyPipeline(context.Background(), "s1", f.extractor, f.explained, f.events, post, clock.Now, cfg, zap.NewNop())
	return f
}

// step runs the next closure posted to the actor.
func (f *terminologyFixture) step(t *testing.T) {
	t.Helper()
	select {
	case fn := <-f.queue:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a posted callback")
	}
}

func (f *terminologyFixture) nextRequest(t *testing.T) extractRequest {
	t.Helper()
	select {
	case req := <-f.extractor.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an extraction request")
	}
	return extractRequest{}
}

func TestTerminologyFlushesAtCharacterThreshold(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour})
	f.extractor.respond(`[]`, nil)

	f.pipeline.Append(strings.Repeat("a", 248))
	select {
	case <-f.extractor.requests:
		t.Fatalf("did not expect a flush below the threshold")
	case <-time.After(20 * time.Millisecond):
	}

	// 248 + newline + "b" + newline reaches 251 runes
	f.pipeline.Append("b")
	req := f.nextRequest(t)
	if !strings.HasSuffix(req.text, "\nb\n") {
		t.Fatalf("expected newline joined buffer, got %q", req.text)
	}
	f.step(t)
}

func TestTerminologyFlushesAtExactThreshold(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour})
	f.extractor.respond(`[]`, nil)

	f.pipeline.Append(strings.Repeat("あ", 249))
	if req := f.nextRequest(t); len([]rune(req.text)) != 250 {
		t.Fatalf("expected a 250 rune flush, got %d", len([]rune(req.text)))
	}
	f.step(t)
}

func TestTerminologyDebounceFlush(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: 20 * time.Millisecond})
	f.extractor.respond(`[]`, nil)

	f.pipeline.Append("we should move to kubernetes")
	f.pipeline.Append("and use SaaS billing")
	f.step(t) // debounce fire

	req := f.nextRequest(t)
	if req.text != "we should move to kubernetes\nand use SaaS billing\n" {
		t.Fatalf("unexpected batch %q", req.text)
	}
	f.step(t)
}

func TestTerminologyDeduplicatesNormalizedTerms(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour, FlushChars: 1})

	f.extractor.respond(`[{"term":"SaaS","description":"Software as a service"}]`, nil)
	f.pipeline.Append("SaaS")
	f.nextRequest(t)
	f.step(t)

	f.extractor.respond("```json\n[{\"term\":\"ＳａａＳ\",\"description\":\"again\"},{\"term\":\"GPT-4\",\"description\":\"a model\"}]\n```", nil)
	f.pipeline.Append("ＳａａＳ and GPT-4")
	req := f.nextRequest(t)
	if len(req.explained) != 1 || req.explained[0] != "saas" {
		t.Fatalf("expected explained terms to be passed along, got %+v", req.explained)
	}
	f.step(t)

	cards := f.events.snapshotCards()
	if len(cards) != 2 || cards[0].Key != "saas" || cards[1].Term != "GPT-4" {
		t.Fatalf("unexpected cards: %+v", cards)
	}
	if got := f.pipeline.Cards(); len(got) != 2 {
		t.Fatalf("expected pipeline to keep two cards, got %d", len(got))
	}
}

func TestTerminologyDiscardsMalformedResponse(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour, FlushChars: 1})
	f.extractor.respond(`Here are the terms: SaaS`, nil)

	f.pipeline.Append("SaaS")
	f.nextRequest(t)
	f.step(t)

	if cards := f.events.snapshotCards(); len(cards) != 0 {
		t.Fatalf("expected no cards, got %+v", cards)
	}
	if f.explained.Len() != 0 {
		t.Fatalf("malformed responses must not mark terms explained")
	}
}

func TestTerminologyResetDropsInFlightResult(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour, FlushChars: 1})
	f.extractor.respond(`[{"term":"OKR","description":"objectives and key results"}]`, nil)

	f.pipeline.Append("OKR")
	f.nextRequest(t)
	f.pipeline.Reset()
	f.step(t)

	if cards := f.events.snapshotCards(); len(cards) != 0 {
		t.Fatalf("expected result of a reset pipeline to be dropped, got %+v", cards)
	}
}

func TestTerminologyExtractorErrorIsLocal(t *testing.T) {
	t.Parallel()

	f := newTerminologyFixture(t, TerminologyConfig{Debounce: time.Hour, FlushChars: 1})
	f.extractor.respond("", errors.New("quota exceeded"))

	f.pipeline.Append("OKR")
	f.nextRequest(t)
	f.step(t)

	if errs := f.events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("expected extraction failures to stay local, got %+v", errs)
	}
}

func TestParseTermResponse(t *testing.T) {
	t.Parallel()

	items, err := parseTermResponse("```\n[]\n```")
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty array to parse, items=%v err=%v", items, err)
	}

	items, err = parseTermResponse("```json[{\"term\":\"KPI\",\"description\":\"indicator\"}]```")
	if err != nil || len(items) != 1 || items[0].Term != "KPI" {
		t.Fatalf("expected single-line fence to parse, items=%v err=%v", items, err)
	}

	_, err = parseTermResponse(`{"term":"KPI"}`)
	var parseErr *domain.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected parse error for a non-array, got %v", err)
	}
}

type extractRequest struct {
	text      string
	explained []string
}

type fakeExtractor struct {
	requests chan extractRequest

	mu  sync.Mutex
	raw string
	err error
}

func (f *fakeExtractor) respond(raw string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = raw
	f.err = err
}

func (f *fakeExtractor) ExtractTerms(_ context.Context, text string, explained []string) (string, error) {
	f.mu.Lock()
	raw, err := f.raw, f.err
	f.mu.Unlock()
	f.requests <- extractRequest{text: text, explained: explained}
	return raw, err
}
