package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"livemeet/internal/audio"
	"livemeet/internal/config"
	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/providers/deepgram"
	"livemeet/internal/providers/geminilive"
	"livemeet/internal/providers/termextract"
	"livemeet/internal/rules"
	"livemeet/internal/store/redisbus"
	"livemeet/internal/store/sqlite"
	"livemeet/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Store      *sqlite.Store
	Config     config.Config

	closers []io.Closer
	stop    context.CancelFunc
}

// Close releases everything Build opened, in reverse order.
func (s Services) Close() error {
	if s.stop != nil {
		s.stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies. The AI providers are optional: a
// missing key leaves the feature off instead of failing startup.
func Build(ctx context.Context, cfg config.Config, events ports.EventSink, logger *zap.Logger) (Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.AssistantNames)
	if err != nil {
		return Services{}, err
	}

	store, err := sqlite.Open(cfg.Storage.Path, logger.Named("sqlite"))
	if err != nil {
		return Services{}, err
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	services := Services{Store: store, Config: cfg, closers: []io.Closer{store}, stop: stop}

	var gateway ports.SessionGateway = store
	var summaries ports.SummaryRequester
	sinks := []ports.EventSink{}
	if events != nil {
		sinks = append(sinks, events)
	}

	if cfg.Redis.URL != "" {
		rdb, err := redisbus.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			_ = services.Close()
			return Services{}, err
		}
		services.closers = append(services.closers, rdb)

		gateway = redisbus.NewLockingGateway(store, rdb, lockTTL(cfg), logger.Named("redis"))
		summaries = redisbus.NewSummaryQueue(rdb, logger.Named("redis"))
		publisher := redisbus.NewPublisher(rdb, logger.Named("redis"))
		go publisher.Run(runCtx)
		sinks = append(sinks, publisher)
	} else {
		summaries = logSummaries{logger: logger}
	}

	var live ports.LiveProvider
	if cfg.Gemini.APIKey != "" {
		live = geminilive.NewProvider(geminilive.Config{
			APIKey:           cfg.Gemini.APIKey,
			BaseURL:          cfg.Gemini.LiveBaseURL,
			HandshakeTimeout: cfg.Gemini.DialTimeout,
			WriteTimeout:     cfg.Gemini.WriteTimeout,
		}, logger.Named("gemini"))
	} else {
		logger.Warn("GEMINI_API_KEY is not set, AI responses are disabled")
	}

	terms, err := buildTermExtractor(ctx, cfg.Terms, logger)
	if err != nil {
		logger.Warn("term extraction disabled", zap.Error(err))
	}

	playback := audio.NewFFPlayPlayback("", logger.Named("playback"))
	services.closers = append(services.closers, playback)

	services.Controller = usecase.NewSessionController(
		usecase.Dependencies{
			Audio: audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger.Named("audio")),
			Transcriber: deepgram.NewProvider(deepgram.Config{
				APIKey:      cfg.Deepgram.APIKey,
				APIBaseURL:  cfg.Deepgram.APIBaseURL,
				Model:       cfg.Deepgram.Model,
				Language:    cfg.Deepgram.Language,
				SmartFormat: cfg.Deepgram.SmartFormat,
			}, logger.Named("deepgram")),
			Live:      live,
			Terms:     terms,
			Gateway:   gateway,
			Summaries: summaries,
			Playback:  playback,
			Events:    fanout(sinks),
			Triggers:  rulesEngine,
			Logger:    logger,
		},
		controllerConfig(cfg),
	)
	return services, nil
}

func controllerConfig(cfg config.Config) usecase.Config {
	s := cfg.Session
	return usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
			Diarize:        cfg.Deepgram.Diarize,
		},
		FrameDuration:       s.FrameDuration,
		SilenceAfter:        s.SilenceAfter,
		ContextPushInterval: s.ContextPushInterval,
		Triggers: rules.EvaluatorConfig{
			MinInterval: s.TriggerMinInterval,
			LongSpeech:  s.LongSpeech,
			WindowSize:  s.WindowSize,
		},
		Live: usecase.LiveConfig{
			Model:             cfg.Gemini.LiveModel,
			SystemInstruction: cfg.Gemini.SystemInstruction,
		},
		Terminology: usecase.TerminologyConfig{
			FlushChars: s.TermFlushChars,
			Debounce:   s.TermDebounce,
			Timeout:    s.TermTimeout,
		},
		Watchdog: usecase.WatchdogConfig{
			Interval:    s.WatchdogInterval,
			IdleTimeout: s.IdleTimeout,
			WarnAfter:   s.DurationWarning,
			Limit:       s.DurationLimit,
		},
	}
}

func buildTermExtractor(ctx context.Context, cfg config.TermsConfig, logger *zap.Logger) (ports.TermExtractor, error) {
	switch cfg.Provider {
	case "", "off", "none":
		return nil, nil
	case "gemini":
		extractor, err := termextract.NewGemini(ctx, termextract.GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		}, logger.Named("terms"))
		if err != nil {
			return nil, err
		}
		return extractor, nil
	case termextract.ProviderOpenAI, termextract.ProviderAnthropic:
		extractor, err := termextract.NewChat(termextract.ChatConfig{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
		}, logger.Named("terms"))
		if err != nil {
			return nil, err
		}
		return extractor, nil
	default:
		return nil, fmt.Errorf("unknown terms provider %q", cfg.Provider)
	}
}

func lockTTL(cfg config.Config) time.Duration {
	if cfg.Session.DurationLimit <= 0 {
		return redisbus.DefaultLockTTL
	}
	return cfg.Session.DurationLimit + 10*time.Minute
}

// logSummaries stands in for the summary queue when Redis is not configured.
type logSummaries struct {
	logger *zap.Logger
}

func (l logSummaries) RequestSummary(_ context.Context, session domain.Session, reason domain.EndReason) error {
	l.logger.Info("session ready for summary",
		zap.String("session_id", session.ID),
		zap.String("meeting_id", session.MeetingID),
		zap.String("reason", string(reason)),
	)
	return nil
}
