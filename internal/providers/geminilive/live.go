package geminilive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"livemeet/internal/ports"
)

const (
	defaultBaseURL      = "wss://generativelanguage.googleapis.com"
	bidiPath            = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultWriteTimeout = 10 * time.Second
	outboundQueueSize   = 32
)

// ErrSendQueueFull is returned when the socket is not draining outbound
// messages. The message is dropped.
var ErrSendQueueFull = errors.New("live send queue full")

// Config controls the Gemini Live websocket.
type Config struct {
	APIKey           string
	BaseURL          string
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each websocket write; a stalled socket fails the
	// connection instead of blocking forever.
	WriteTimeout time.Duration
}

// Provider implements ports.LiveProvider for the Gemini Live API.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) Name() string { return "gemini-live" }

// Connect dials the stream and writes the setup message. The connection
// lives until Close or until ctx is cancelled.
func (p *Provider) Connect(ctx context.Context, setup ports.LiveSetup) (ports.LiveConn, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}

	wsURL, err := buildLiveURL(p.cfg)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live websocket: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	if err := conn.WriteJSON(setupMessage{Setup: toSetupBody(setup)}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send live setup: %w", err)
	}
	p.logger.Debug("gemini live setup sent", zap.String("model", setup.Model))

	session := &liveConn{
		conn:         conn,
		logger:       p.logger,
		writeTimeout: p.cfg.WriteTimeout,
		messages:     make(chan ports.LiveMessage, 64),
		outbound:     make(chan []byte, outboundQueueSize),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.messages)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

type liveConn struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	messages chan ports.LiveMessage
	outbound chan []byte
	done     chan struct{}
	closing  chan struct{}
	readDone chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (c *liveConn) SendTurn(ctx context.Context, role string, text string, turnComplete bool) error {
	if role == "" {
		role = "user"
	}
	return c.enqueue(ctx, clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: role, Parts: []part{{Text: text}}}},
		TurnComplete: turnComplete,
	}})
}

func (c *liveConn) SendToolResponses(ctx context.Context, responses []ports.ToolResponse) error {
	out := make([]functionResponse, 0, len(responses))
	for _, response := range responses {
		out = append(out, functionResponse{ID: response.ID, Name: response.Name, Response: response.Response})
	}
	var msg toolResponseMessage
	msg.ToolResponse.FunctionResponses = out
	return c.enqueue(ctx, msg)
}

// enqueue hands a message to the writer without waiting for the network.
// It never blocks: when the writer is behind the message is dropped with
// ErrSendQueueFull.
func (c *liveConn) enqueue(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode live message: %w", err)
	}
	select {
	case <-c.closing:
		return errors.New("live connection closed")
	case <-c.done:
		if err := c.waitErr(); err != nil {
			return err
		}
		return errors.New("live connection closed")
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	default:
		c.logger.Warn("dropping live message, writer is stalled", zap.Int("queued", len(c.outbound)))
		return ErrSendQueueFull
	}
}

func (c *liveConn) Messages() <-chan ports.LiveMessage {
	return c.messages
}

func (c *liveConn) Wait() error {
	<-c.done
	return c.waitErr()
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *liveConn) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *liveConn) setErr(err error) {
	if err == nil {
		return
	}
	select {
	case <-c.closing:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *liveConn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case payload := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.setErr(fmt.Errorf("failed to write live message: %w", err))
				_ = c.conn.Close()
				return
			}
		case <-c.closing:
			return
		case <-c.readDone:
			return
		}
	}
}

func (c *liveConn) readLoop() {
	defer c.wg.Done()
	defer close(c.readDone)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read live message: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug("skipping undecodable live message", zap.Error(err))
			continue
		}
		if msg.Error != nil {
			c.setErr(fmt.Errorf("gemini live error %d: %s", msg.Error.Code, msg.Error.Message))
			return
		}

		decoded, ok := toLiveMessage(msg)
		if !ok {
			continue
		}
		select {
		case c.messages <- decoded:
		case <-c.closing:
			return
		}
	}
}

func buildLiveURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	liveURL, err := url.Parse(base + bidiPath)
	if err != nil {
		return "", fmt.Errorf("invalid Gemini Live base URL: %w", err)
	}
	query := liveURL.Query()
	query.Set("key", cfg.APIKey)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}

func toSetupBody(setup ports.LiveSetup) setupBody {
	model := setup.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	body := setupBody{Model: model}
	if len(setup.ResponseModalities) > 0 {
		body.GenerationConfig = &generationConfig{ResponseModalities: setup.ResponseModalities}
	}
	if setup.SystemInstruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: setup.SystemInstruction}}}
	}
	if len(setup.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(setup.Tools))
		for _, tool := range setup.Tools {
			decls = append(decls, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		body.Tools = []toolSet{{FunctionDeclarations: decls}}
	}
	return body
}

// toLiveMessage reports false for messages that carry nothing the session
// acts on.
func toLiveMessage(msg serverMessage) (ports.LiveMessage, bool) {
	var out ports.LiveMessage
	useful := false

	if msg.SetupComplete != nil {
		out.SetupComplete = true
		useful = true
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				livePart := ports.LivePart{Text: p.Text}
				if p.InlineData != nil {
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err == nil {
						livePart.MIMEType = p.InlineData.MIMEType
						livePart.Data = data
					}
				}
				if livePart.Text != "" || len(livePart.Data) > 0 {
					out.Parts = append(out.Parts, livePart)
				}
			}
		}
		out.TurnComplete = sc.TurnComplete
		out.GenerationComplete = sc.GenerationComplete
		out.Interrupted = sc.Interrupted
		useful = useful || len(out.Parts) > 0 || sc.TurnComplete || sc.GenerationComplete || sc.Interrupted
	}
	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			out.ToolCalls = append(out.ToolCalls, ports.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
		}
		useful = useful || len(out.ToolCalls) > 0
	}
	if u := msg.UsageMetadata; u != nil {
		out.Usage = &ports.Usage{
			PromptTokens:   u.PromptTokenCount,
			ResponseTokens: u.ResponseTokenCount,
			TotalTokens:    u.TotalTokenCount,
		}
		useful = true
	}
	return out, useful
}
