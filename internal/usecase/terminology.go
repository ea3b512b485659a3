package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/terms"
)

const (
	DefaultTermFlushChars = 250
	DefaultTermDebounce   = 5 * time.Second
	DefaultTermTimeout    = 30 * time.Second
)

// TerminologyConfig controls when buffered transcript text is sent for term
// extraction.
type TerminologyConfig struct {
	FlushChars int
	Debounce   time.Duration
	Timeout    time.Duration
}

func (c TerminologyConfig) withDefaults() TerminologyConfig {
	if c.FlushChars <= 0 {
		c.FlushChars = DefaultTermFlushChars
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultTermDebounce
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTermTimeout
	}
	return c
}

type termItem struct {
	Term        string `json:"term"`
	Description string `json:"description"`
}

// terminologyPipeline batches final transcript text and turns extraction
// results into term cards. All methods except the extraction goroutine run
// on the session actor; post hands results back to it.
type terminologyPipeline struct {
	extractor ports.TermExtractor
	explained *terms.ExplainedSet
	events    ports.EventSink
	logger    *zap.Logger
	post      func(func()) bool
	now       func() time.Time
	ctx       context.Context
	sessionID string
	cfg       TerminologyConfig

	buf      strings.Builder
	timer    *time.Timer
	timerGen int
	gen      int

	cardsMu sync.Mutex
	cards   []domain.TermCard
}

func newTerminologyPipeline(
	ctx context.Context,
	sessionID string,
	extractor ports.TermExtractor,
	explained *terms.ExplainedSet,
	events ports.EventSink,
	post func(func()) bool,
	now func() time.Time,
	cfg TerminologyConfig,
	logger *zap.Logger,
) *terminologyPipeline {
	return &terminologyPipeline{
		extractor: extractor,
		explained: explained,
		events:    events,
		logger:    logger,
		post:      post,
		now:       now,
		ctx:       ctx,
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
	}
}

// Append adds one final transcript line. The buffer is flushed at once when
// it reaches the character threshold, otherwise after the debounce.
func (p *terminologyPipeline) Append(text string) {
	if p.extractor == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	p.buf.WriteString(text)
	p.buf.WriteByte('\n')

	if utf8.RuneCountInString(p.buf.String()) >= p.cfg.FlushChars {
		p.flush()
		return
	}
	p.armDebounce()
}

// Reset drops buffered text, cancels the debounce and invalidates in-flight
// extractions. Cards already shown are forgotten.
func (p *terminologyPipeline) Reset() {
	p.stopDebounce()
	p.gen++
	p.buf.Reset()

	p.cardsMu.Lock()
	p.cards = nil
	p.cardsMu.Unlock()
}

func (p *terminologyPipeline) Cards() []domain.TermCard {
	p.cardsMu.Lock()
	defer p.cardsMu.Unlock()
	return append([]domain.TermCard(nil), p.cards...)
}

func (p *terminologyPipeline) armDebounce() {
	p.stopDebounce()
	gen := p.timerGen
	p.timer = time.AfterFunc(p.cfg.Debounce, func() {
		p.post(func() {
			if gen != p.timerGen {
				return
			}
			p.flush()
		})
	})
}

func (p *terminologyPipeline) stopDebounce() {
	p.timerGen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *terminologyPipeline) flush() {
	p.stopDebounce()

	text := p.buf.String()
	p.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}

	gen := p.gen
	explained := p.explained.List()
	go func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()
		raw, err := p.extractor.ExtractTerms(ctx, text, explained)
		p.post(func() { p.handleResult(gen, raw, err) })
	}()
}

func (p *terminologyPipeline) handleResult(gen int, raw string, err error) {
	if gen != p.gen {
		return
	}
	if err != nil {
		p.logger.Warn("term extraction failed", zap.Error(err))
		return
	}

	items, err := parseTermResponse(raw)
	if err != nil {
		p.logger.Warn("discarding terminology response", zap.Error(err))
		return
	}

	for _, item := range items {
		term := strings.TrimSpace(item.Term)
		key, added := p.explained.Add(term)
		if !added {
			continue
		}
		card := domain.TermCard{
			Key:         key,
			Term:        term,
			Description: strings.TrimSpace(item.Description),
			FirstSeen:   p.now(),
		}
		p.cardsMu.Lock()
		p.cards = append(p.cards, card)
		p.cardsMu.Unlock()
		p.events.TermCard(p.sessionID, card)
	}
}

// parseTermResponse accepts a JSON array of {term, description}, optionally
// wrapped in a markdown code fence.
func parseTermResponse(raw string) ([]termItem, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, &domain.ParseError{Raw: raw, Err: errors.New("empty response")}
	}

	var items []termItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, &domain.ParseError{Raw: raw, Err: err}
	}
	return items, nil
}

func stripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```")
	// drop the language tag
	if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
		cleaned = cleaned[idx+1:]
	} else {
		cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "json"), "JSON")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
