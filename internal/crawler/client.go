package crawler

import (
	"time"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/httpclient"
	"github.com/rs/zerolog"
)

// NewRemoteClient builds the HTTP client used for the root page and listing
// calls. The cookie jar is required: the anti-forgery token is only accepted
// together with the cookie issued alongside it.
func NewRemoteClient(cfg config.RemoteConfig, logger zerolog.Logger) (*httpclient.HTTPClient, error) {
	b := httpclient.NewHTTPClientBuilder(logger).
		WithTimeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second).
		WithUserAgent(cfg.UserAgent).
		WithInsecureSkipVerify(cfg.InsecureSkipVerify).
		WithHTTP2(cfg.HTTP2).
		WithCookies(true).
		WithRetry(httpclient.DefaultRetryHandlerConfig(cfg.MaxRetries))
	if cfg.AcceptLanguage != "" {
		b = b.WithHeader("Accept-Language", cfg.AcceptLanguage)
	}
	return b.Build()
}
