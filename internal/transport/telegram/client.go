// Package telegram is the Bot API adapter behind transport.Transport, plus
// the long-polling update source. Both ride on github.com/go-telegram/bot.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"relaygate/internal/platform/metrics"
)

const (
	defaultAPIURL      = "https://api.telegram.org"
	defaultPollTimeout = 30 * time.Second
	// httpMargin is added to the long-poll wait so an idle getUpdates
	// returns before the HTTP client gives up on it.
	httpMargin = 10 * time.Second
)

var allowedUpdates = tgbot.AllowedUpdates{"message", "edited_message", "message_reaction"}

// Handler processes one update.
type Handler func(ctx context.Context, u *models.Update)

// Client calls the Bot API. Outbound calls share one token bucket so bursts
// stay under the platform's flood limits; 429 answers are retried after the
// advertised delay.
type Client struct {
	bot         *tgbot.Bot
	token       string
	apiURL      string
	http        *http.Client
	pollTimeout time.Duration
	workers     int
	limiter     *rate.Limiter
	maxRetries  int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	handler     atomic.Pointer[Handler]
}

type Option func(*Client)

func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client. Its timeout must exceed the poll
// timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPollTimeout sets how long one getUpdates call waits for new updates.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.pollTimeout = d }
}

// WithWorkers sets how many updates are handled concurrently.
func WithWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// WithRateLimit sets the sustained calls per second and the burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("bot token is required")
	}
	c := &Client{
		token:       token,
		apiURL:      defaultAPIURL,
		pollTimeout: defaultPollTimeout,
		workers:     8,
		limiter:     rate.NewLimiter(rate.Limit(25), 5),
		maxRetries:  3,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.pollTimeout + httpMargin}
	}

	// The library sends pollTimeout minus one second as the getUpdates wait.
	b, err := tgbot.New(token,
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(c.apiURL),
		tgbot.WithHTTPClient(c.pollTimeout+time.Second, c.http),
		tgbot.WithAllowedUpdates(allowedUpdates),
		tgbot.WithWorkers(c.workers),
		tgbot.WithNotAsyncHandlers(),
		tgbot.WithDefaultHandler(c.dispatch),
		tgbot.WithErrorsHandler(c.pollError),
	)
	if err != nil {
		return nil, c.wrap("init", err)
	}
	c.bot = b
	return c, nil
}

// Run long-polls for updates and hands each one to handle until ctx is
// cancelled. In-flight handlers finish before it returns.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	c.handler.Store(&handle)
	c.bot.Start(ctx)
	return ctx.Err()
}

func (c *Client) dispatch(ctx context.Context, _ *tgbot.Bot, u *models.Update) {
	if h := c.handler.Load(); h != nil {
		(*h)(ctx, u)
	}
}

func (c *Client) pollError(err error) {
	c.logger.Warn("getUpdates failed", "error", c.wrap("getUpdates", err))
}

// do runs one Bot API call through the throttle, records it and retries it
// while the platform answers 429.
func do[T any](ctx context.Context, c *Client, method string, call func(context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		start := time.Now()
		res, err := call(ctx)
		err = c.wrap(method, err)
		c.metrics.ObserveTransportCall(method, err, time.Since(start))

		var tooMany *tgbot.TooManyRequestsError
		if !errors.As(err, &tooMany) || attempt >= c.maxRetries {
			return res, err
		}
		wait := time.Duration(tooMany.RetryAfter) * time.Second
		c.logger.WarnContext(ctx, "telegram rate limited, retrying",
			"method", method, "retry_after", wait, "attempt", attempt+1)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
