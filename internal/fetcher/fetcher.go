// Package fetcher downloads the page that carries the historical data table.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"cdsfeeder/lib/restyutil"
	"cdsfeeder/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("cdsfeeder.internal.fetcher")

const (
	report_fetch       = "fetcher.fetch"
	report_fetch_retry = "fetcher.fetch-retry"
)

// retryStatuses mirrors the status list the page is known to answer with
// while it is overloaded or rate limiting.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Headers struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Referer        string
	Extra          map[string]string
}

type Options struct {
	// Timeout applies to every attempt on its own.
	Timeout time.Duration
	// Retries is the amount of retries after the first attempt.
	Retries int
	// BackoffFactor is the wait before the first retry, doubled on every
	// subsequent retry.
	BackoffFactor time.Duration
	// MaxBackoff caps a single wait.
	MaxBackoff       time.Duration
	Headers          Headers
	CloudflareBypass bool
	// Dump receives every HTTP exchange when set.
	Dump      restyutil.InstrumentOutput
	Telemetry telemetry.API
}

// FetchError is returned when the page could not be downloaded, either
// because retries were exhausted or because the server answered with a
// status that is not worth retrying.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v (after %d attempt(s))", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	client *resty.Client
	tel    telemetry.API
}

func New(opts Options) *Fetcher {
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}

	client := resty.New()
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	setHeader(client, "User-Agent", opts.Headers.UserAgent)
	setHeader(client, "Accept", opts.Headers.Accept)
	setHeader(client, "Accept-Language", opts.Headers.AcceptLanguage)
	setHeader(client, "Referer", opts.Headers.Referer)
	for k, v := range opts.Headers.Extra {
		setHeader(client, k, v)
	}

	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Minute
	}
	client.
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(time.Millisecond).
		SetRetryMaxWaitTime(maxBackoff).
		SetRetryAfter(func(_ *resty.Client, res *resty.Response) (time.Duration, error) {
			return Backoff(opts.BackoffFactor, maxBackoff, res.Request.Attempt), nil
		}).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(res *resty.Response, err error) {
			attempt := 0
			status := 0
			if res != nil {
				attempt = res.Request.Attempt
				status = res.StatusCode()
			}
			tel.ReportWarning(report_fetch_retry, attempt, status, err)
		})

	restyutil.InstrumentClient(client, tracer, opts.Dump)

	return &Fetcher{client: client, tel: tel}
}

func setHeader(client *resty.Client, key, value string) {
	if value != "" {
		client.SetHeader(key, value)
	}
}

// Backoff is the wait before retry number `retry` (1 based), growing as
// factor * 2^(retry-1) until it reaches max.
func Backoff(factor, max time.Duration, retry int) time.Duration {
	if factor <= 0 || retry < 1 {
		return 0
	}
	wait := float64(factor) * math.Exp2(float64(retry-1))
	if wait > float64(max) {
		return max
	}
	return time.Duration(wait)
}

func shouldRetry(res *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if res == nil {
		return false
	}
	return retryStatuses[res.StatusCode()]
}

// Fetch downloads url and returns its body. Any failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, err := f.client.R().
		SetContext(ctx).
		Get(url)

	attempts := 1
	if res != nil && res.Request != nil && res.Request.Attempt > 0 {
		attempts = res.Request.Attempt
	}
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		ferr := &FetchError{URL: url, Attempts: attempts, Err: err}
		span.RecordError(ferr)
		span.SetStatus(codes.Error, "request failed")
		f.tel.ReportBroken(report_fetch, ferr)
		return "", ferr
	}
	if res.IsError() {
		ferr := &FetchError{
			URL:        url,
			StatusCode: res.StatusCode(),
			Attempts:   attempts,
			Err:        fmt.Errorf("unexpected status %s", res.Status()),
		}
		span.SetStatus(codes.Error, "unexpected status")
		f.tel.ReportBroken(report_fetch, ferr)
		return "", ferr
	}

	return string(res.Body()), nil
}
