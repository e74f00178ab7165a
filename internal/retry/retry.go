// Package retry повторяет HTTP-вызовы к внешним сервисам при временных сбоях.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 8 * time.Second
	defaultMultiplier     = 2.0
	defaultMaxAttempts    = 3
	defaultJitterFraction = 0.30
	defaultSnippetLimit   = 200
)

type Sleeper func(ctx context.Context, d time.Duration) error

// Policy описывает экспоненциальный backoff с джиттером.
// Нулевые поля заменяются значениями по умолчанию.
//
// RetryTimeouts разрешает повтор после сетевого таймаута попытки. Для неидемпотентных
// запросов его оставляют выключенным: сервер мог уже выполнить работу.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	JitterFraction float64
	SnippetLimit   int
	RetryTimeouts  bool
	Sleep          Sleeper
	Now            func() time.Time
	Rand           func() float64
}

func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

// Response содержит полностью прочитанный ответ одной попытки.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Attempt выполняет одну попытку запроса и полностью читает тело ответа.
type Attempt func(ctx context.Context) (Response, error)

type HTTPStatusError struct {
	StatusCode  int
	BodySnippet string
}

func (e *HTTPStatusError) Error() string {
	if e.BodySnippet == "" {
		return fmt.Sprintf("transient status %d", e.StatusCode)
	}
	return fmt.Sprintf("transient status %d: %s", e.StatusCode, e.BodySnippet)
}

type ExhaustedError struct {
	Cause    error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Do вызывает attempt, пока ответ не перестанет быть временной ошибкой
// (408, 429, 5xx, обрыв соединения) или не кончатся попытки.
// Нетранзиентные статусы возвращаются вызывающему как обычный Response.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, attempt Attempt) (Response, error) {
	policy = policy.withDefaults()

	var lastErr error
	for n := 1; n <= policy.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		resp, err := attempt(ctx)

		var (
			delay          time.Duration
			reason         string
			status         int
			snippet        string
			usedRetryAfter bool
		)
		switch {
		case err != nil:
			if !isRetryableNetErr(ctx, err, policy.RetryTimeouts) {
				return Response{}, err
			}
			lastErr = err
			reason = reasonForNetErr(err)
			delay = policy.jitter(policy.backoff(n))

		case isRetryableStatus(resp.StatusCode):
			status = resp.StatusCode
			snippet = bodySnippet(resp.Body, policy.SnippetLimit)
			lastErr = &HTTPStatusError{StatusCode: status, BodySnippet: snippet}
			reason = reasonForStatus(status)

			var retryAfter time.Duration
			retryAfter, usedRetryAfter = parseRetryAfter(resp.Header, policy.Now())
			if usedRetryAfter {
				delay = min(retryAfter, policy.MaxDelay)
			} else {
				delay = policy.jitter(policy.backoff(n))
			}

		default:
			return resp, nil
		}

		if n == policy.MaxAttempts {
			break
		}
		logRetry(logger, n+1, policy.MaxAttempts, status, reason, delay, usedRetryAfter, snippet)
		if err := policy.Sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}

	return Response{}, &ExhaustedError{Cause: lastErr, Attempts: policy.MaxAttempts}
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay == 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaultMultiplier
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = defaultJitterFraction
	}
	if p.SnippetLimit == 0 {
		p.SnippetLimit = defaultSnippetLimit
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Rand == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		p.Rand = rng.Float64
	}
	return p
}

// backoff возвращает задержку перед повтором после попытки n (считая с 1).
func (p Policy) backoff(n int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// jitter сдвигает задержку на ±JitterFraction.
func (p Policy) jitter(delay time.Duration) time.Duration {
	if delay <= 0 || p.JitterFraction <= 0 {
		return delay
	}
	factor := 1 + (p.Rand()*2-1)*p.JitterFraction
	return time.Duration(math.Max(0, float64(delay)*factor))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(seconds, 0)) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func reasonForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate limit"
	case http.StatusRequestTimeout:
		return "timeout"
	default:
		return "upstream 5xx"
	}
}

func isRetryableNetErr(ctx context.Context, err error, retryTimeouts bool) bool {
	// Отмена или дедлайн самого запроса не лечится повтором.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retryTimeouts
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

func reasonForNetErr(err error) string {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, syscall.ECONNRESET), strings.Contains(strings.ToLower(err.Error()), "connection reset"):
		return "connection reset"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network error"
}

func logRetry(logger *slog.Logger, attempt, maxAttempts, status int, reason string, delay time.Duration, usedRetryAfter bool, snippet string) {
	if logger == nil {
		return
	}
	args := []any{
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
		slog.String("reason", reason),
		slog.Duration("retry_in", delay),
		slog.Bool("retry_after_used", usedRetryAfter),
	}
	if status > 0 {
		args = append(args, slog.Int("status", status))
	}
	if snippet != "" {
		args = append(args, slog.String("snippet", snippet))
	}
	logger.Warn("retrying request", args...)
}

func bodySnippet(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
