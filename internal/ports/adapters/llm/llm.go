// Package llm extracts highlight segments from a transcript through an
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/forPelevin/ytclipper/internal/domain/highlights"
	"github.com/forPelevin/ytclipper/internal/format"
	"github.com/forPelevin/ytclipper/internal/ports"
	"github.com/forPelevin/ytclipper/internal/types"
)

var (
	ErrAuth      = errors.New("llm: authentication failed")
	ErrNoContent = errors.New("llm: empty response")
)

const (
	DefaultModel = "gemini-2.0-flash"

	maxTranscriptRunes = 30000
	truncatedMarker    = "\n...[truncated]..."

	defaultAttempts = 5
	defaultDelay    = 5 * time.Second
	requestTimeout  = 120 * time.Second
	temperature     = 0.3

	systemPrompt = "You are a professional video editor assistant. You extract viral clips from transcripts."
)

type Options struct {
	APIKey    string
	Model     string
	Providers []Provider
	// BaseURL bypasses the provider table.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	Attempts     int
	InitialDelay time.Duration
	Timeout      time.Duration
	Getenv       func(string) string
}

type Extractor struct {
	client   openai.Client
	key      string
	model    string
	provider Provider
	log      *slog.Logger

	attempts int
	delay    time.Duration
	timeout  time.Duration
	sleep    func(context.Context, time.Duration) error
}

var _ ports.SegmentExtractor = (*Extractor)(nil)

func New(opts Options) (*Extractor, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var p Provider
	if opts.BaseURL != "" {
		p = Provider{Name: "custom", BaseURL: opts.BaseURL}
	} else {
		var err error
		p, err = ResolveProvider(opts.Providers, model)
		if err != nil {
			return nil, err
		}
	}
	key := p.APIKey(opts.APIKey, getenv)
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("API key is required for AI analysis")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(p.Endpoint(model)),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	e := &Extractor{
		client:   openai.NewClient(reqOpts...),
		key:      key,
		model:    model,
		provider: p,
		log:      opts.Logger,
		attempts: opts.Attempts,
		delay:    opts.InitialDelay,
		timeout:  opts.Timeout,
		sleep:    sleepCtx,
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.attempts <= 0 {
		e.attempts = defaultAttempts
	}
	if e.delay <= 0 {
		e.delay = defaultDelay
	}
	if e.timeout <= 0 {
		e.timeout = requestTimeout
	}
	return e, nil
}

func (e *Extractor) Provider() Provider { return e.provider }

func (e *Extractor) Model() string { return e.model }

// Extract reads the subtitle file named in req and analyzes it.
func (e *Extractor) Extract(ctx context.Context, req ports.ExtractRequest) ([]types.Segment, error) {
	segs, _, err := e.AnalyzeFile(ctx, req.SubtitlePath)
	return segs, err
}

func (e *Extractor) AnalyzeFile(ctx context.Context, path string) ([]types.Segment, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read transcript: %w", err)
	}
	return e.Analyze(ctx, string(b))
}

// Analyze sends transcript to the model and returns the parsed segments
// along with the cleaned response text. Transient failures are retried
// with exponential backoff.
func (e *Extractor) Analyze(ctx context.Context, transcript string) ([]types.Segment, string, error) {
	prompt := buildPrompt(truncateTranscript(transcript))
	e.log.Info("sending transcript", "provider", e.provider.Name, "model", e.model)

	delay := e.delay
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			e.log.Warn("retrying analysis", "attempt", attempt, "of", e.attempts, "delay", delay, "err", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, "", err
			}
			delay *= 2
		}

		segs, raw, err := e.attempt(ctx, prompt)
		if err == nil {
			e.log.Info("analysis complete", "segments", len(segs))
			return segs, raw, nil
		}
		if !retryable(ctx, err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("llm: retries exhausted after %d attempts: %w", e.attempts, lastErr)
}

// retryError marks failures worth another attempt.
type retryError struct{ err error }

func (r retryError) Error() string { return r.err.Error() }
func (r retryError) Unwrap() error { return r.err }

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var r retryError
	return errors.As(err, &r)
}

func (e *Extractor) attempt(ctx context.Context, prompt string) ([]types.Segment, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Model:       e.model,
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return nil, "", e.classify(ctx, reqCtx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, "", retryError{fmt.Errorf("%w: no choices", ErrNoContent)}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, "", retryError{ErrNoContent}
	}

	clean, err := extractJSONArray(content)
	if err != nil {
		return nil, "", retryError{err}
	}
	segs, err := parseSegments(clean)
	if err != nil {
		return nil, "", retryError{err}
	}
	if highlights.HasScores(segs) {
		highlights.SortByScore(segs)
	}
	return segs, clean, nil
}

func (e *Extractor) classify(ctx, reqCtx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Errorf("llm status %d: %s", apiErr.StatusCode, truncate(redactSecrets(apiErr.Error(), e.key), 400))
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuth, msg)
		case apiErr.StatusCode >= 500:
			return retryError{msg}
		default:
			return msg
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return retryError{fmt.Errorf("llm timeout after %s (model=%s)", e.timeout, e.model)}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return retryError{fmt.Errorf("llm timeout: %w", err)}
	}
	return fmt.Errorf("llm request: %s", redactSecrets(err.Error(), e.key))
}

func buildPrompt(transcript string) string {
	return `Analyze the following VTT subtitle transcript carefully.
Identify 10-15 distinct, interesting chapters or highlights that would make great short clips for social media.

IMPORTANT RULES:
1. Each clip MUST be at least 30-60 seconds long to capture full context
2. Include the COMPLETE conversation/story - don't cut in the middle of a sentence or idea
3. Start a few seconds BEFORE the interesting moment (for context)
4. End a few seconds AFTER the punchline/conclusion (for impact)
5. Focus on: funny moments, emotional moments, surprising reveals, key insights, or viral-worthy content
6. Optionally rate each clip with a "score" from 0 to 10 for viral potential

Return ONLY a raw JSON array. Do not use Markdown code blocks.

Format:
[
  {
    "title": "Short catchy title for the clip",
    "start": "00:00:00",
    "end": "00:01:00",
    "reason": "Why this segment is interesting and viral-worthy",
    "score": 8.5
  }
]

Transcript:
` + transcript
}

func truncateTranscript(s string) string {
	r := []rune(s)
	if len(r) <= maxTranscriptRunes {
		return s
	}
	return string(r[:maxTranscriptRunes]) + truncatedMarker
}

func extractJSONArray(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", ErrNoContent
	}
	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		} else {
			t = strings.TrimLeft(t, "`")
			t = strings.TrimPrefix(t, "json")
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	if json.Valid([]byte(t)) && strings.HasPrefix(t, "[") {
		return t, nil
	}

	start := strings.Index(t, "[")
	end := strings.LastIndex(t, "]")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("llm: could not locate JSON array in: %q", truncate(t, 200))
}

type rawSegment struct {
	Title  string          `json:"title"`
	Start  json.RawMessage `json:"start"`
	End    json.RawMessage `json:"end"`
	Reason string          `json:"reason"`
	Score  *float64        `json:"score"`
}

// parseSegments decodes a JSON array of segments. Elements that are not
// objects or lack a title, start or end are dropped. Numeric start/end
// values are read as seconds.
func parseSegments(s string) ([]types.Segment, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("llm: parse JSON array: %w", err)
	}
	out := make([]types.Segment, 0, len(items))
	for _, it := range items {
		var r rawSegment
		if err := json.Unmarshal(it, &r); err != nil {
			continue
		}
		start, ok1 := timeField(r.Start)
		end, ok2 := timeField(r.End)
		title := strings.TrimSpace(r.Title)
		if !ok1 || !ok2 || title == "" {
			continue
		}
		out = append(out, types.Segment{
			Title:  title,
			Start:  start,
			End:    end,
			Reason: strings.TrimSpace(r.Reason),
			Score:  r.Score,
		})
	}
	return out, nil
}

func timeField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return format.Seconds(f), true
	}
	return "", false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
