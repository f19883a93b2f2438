package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Level string

const (
	Level_Info  Level = "info"
	Level_Warn  Level = "warn"
	Level_Error Level = "error"
)

// Sink delivers operator alerts. Notify must never block the caller.
type Sink interface {
	Notify(level Level, message string)
}

type DiscordSinkConfig struct {
	Webhooks      map[Level]string
	RatePerSecond float64
	BufferSize    int
}

type notification struct {
	level   Level
	message string
}

// DiscordSink posts alerts to one Discord webhook per level from a background worker.
type DiscordSink struct {
	config     *DiscordSinkConfig
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan notification
	wg     sync.WaitGroup
}

func NewDiscordSink(cfg *DiscordSinkConfig, l *zap.Logger) *DiscordSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	s := &DiscordSink{
		config:     cfg,
		logger:     l,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		queue:      make(chan notification, cfg.BufferSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *DiscordSink) SetHttpClient(client *http.Client) {
	s.httpClient = client
}

func (s *DiscordSink) Notify(level Level, message string) {
	switch level {
	case Level_Error:
		s.logger.Sugar().Errorw("Alert", zap.String("message", message))
	case Level_Warn:
		s.logger.Sugar().Warnw("Alert", zap.String("message", message))
	default:
		s.logger.Sugar().Infow("Alert", zap.String("message", message))
	}

	if s.config.Webhooks[level] == "" {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- notification{level: level, message: message}:
	default:
		s.logger.Sugar().Warnw("Alert queue full, dropping alert", zap.String("level", string(level)))
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered.
func (s *DiscordSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *DiscordSink) run() {
	defer s.wg.Done()
	for n := range s.queue {
		if err := s.limiter.Wait(context.Background()); err != nil {
			s.logger.Sugar().Errorw("Alert rate limiter failed", zap.Error(err))
			continue
		}
		if err := s.deliver(n); err != nil {
			s.logger.Sugar().Errorw("Failed to deliver alert",
				zap.String("level", string(n.level)),
				zap.Error(err),
			)
		}
	}
}

func (s *DiscordSink) deliver(n notification) error {
	body, err := json.Marshal(map[string]string{"content": n.message})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.config.Webhooks[n.level], bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", res.StatusCode)
	}
	return nil
}

// LogSink only logs alerts. Used by one-shot commands and tests.
type LogSink struct {
	Logger *zap.Logger

	mu       sync.Mutex
	Messages []string
}

func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{Logger: l}
}

func (s *LogSink) Notify(level Level, message string) {
	s.mu.Lock()
	s.Messages = append(s.Messages, fmt.Sprintf("%s: %s", level, message))
	s.mu.Unlock()
	s.Logger.Sugar().Infow("Alert", zap.String("level", string(level)), zap.String("message", message))
}

func (s *LogSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages)
}
