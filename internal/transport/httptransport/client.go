package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// RetryPolicy retries like retryablehttp's default policy but never once the request
// context is done: a cancelled transfer must stop, not back off and try again.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	return retryablehttp.ErrorPropagatedRetryPolicy(ctx, resp, err)
}

func newClient(opts Options, logger *slog.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.CheckRetry = RetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)

	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}

	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	}

	base := rc.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	if opts.AuthToken != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AuthToken}),
			Base:   base,
		}
	}

	client := *rc.HTTPClient
	client.Transport = otelhttp.NewTransport(base)
	rc.HTTPClient = &client

	return rc
}
