// Package httpclient wraps net/http with the transport, cookie, retry and
// size-limit policy used against the remote listing service.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

// HTTPRequest describes one outgoing request. Body is a byte slice so the
// request can be replayed by the retry handler.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Context context.Context
}

// HTTPResponse is a fully buffered response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// HTTPClient wraps net/http.Client
type HTTPClient struct {
	client       *http.Client
	config       HTTPClientConfig
	logger       zerolog.Logger
	retryHandler *RetryHandler
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(config HTTPClientConfig, logger zerolog.Logger) (*HTTPClient, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn().Err(err).Msg("Failed to configure HTTP/2, falling back to HTTP/1.1")
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}

	if config.EnableCookies {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, WrapError(err, "failed to create cookie jar")
		}
		client.Jar = jar
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		}
	}

	logger.Debug().
		Dur("timeout", config.Timeout).
		Bool("http2_enabled", config.EnableHTTP2).
		Bool("cookies", config.EnableCookies).
		Msg("HTTP client created")

	return &HTTPClient{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Do performs a request and buffers the body, with retries if a retry
// handler is configured.
func (c *HTTPClient) Do(req *HTTPRequest) (*HTTPResponse, error) {
	if c.retryHandler != nil {
		return c.retryHandler.DoWithRetry(requestContext(req), c.do, req)
	}
	return c.do(req)
}

// Stream performs a request and hands back the live response. The caller owns
// resp.Body. Only a successful status is returned; anything else is drained,
// closed and reported as an HTTPError. Network failures before the first byte
// are retried with the same backoff as Do.
func (c *HTTPClient) Stream(req *HTTPRequest) (*http.Response, error) {
	attempts := 1
	if c.retryHandler != nil {
		attempts += c.retryHandler.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ctx := requestContext(req)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.send(req)
		if err != nil {
			lastErr = err
			if attempt+1 >= attempts {
				break
			}
			if werr := c.retryHandler.WaitAfterError(ctx, attempt, req.URL, err); werr != nil {
				return nil, werr
			}
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		lastErr = errorwrapper.NewHTTPErrorWithURL(resp.StatusCode, strings.TrimSpace(string(snippet)), req.URL)

		if c.retryHandler == nil || !c.retryHandler.retryStatusCodes[resp.StatusCode] || attempt+1 >= attempts {
			return nil, lastErr
		}
		if err := c.retryHandler.WaitForRetry(ctx, attempt, resp.StatusCode, req.URL); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// PostForm sends an application/x-www-form-urlencoded POST.
func (c *HTTPClient) PostForm(ctx context.Context, target string, form url.Values, headers map[string]string) (*HTTPResponse, error) {
	merged := map[string]string{"Content-Type": "application/x-www-form-urlencoded; charset=UTF-8"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.Do(&HTTPRequest{
		Method:  http.MethodPost,
		URL:     target,
		Headers: merged,
		Body:    []byte(form.Encode()),
		Context: ctx,
	})
}

// Get performs a buffered GET.
func (c *HTTPClient) Get(ctx context.Context, target string, headers map[string]string) (*HTTPResponse, error) {
	return c.Do(&HTTPRequest{Method: http.MethodGet, URL: target, Headers: headers, Context: ctx})
}

func (c *HTTPClient) do(req *HTTPRequest) (*HTTPResponse, error) {
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if c.config.MaxContentSize > 0 {
		body = io.LimitReader(resp.Body, c.config.MaxContentSize+1)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, errorwrapper.NewNetworkError(req.URL, "failed to read response body", err)
	}
	if c.config.MaxContentSize > 0 && int64(buf.Len()) > c.config.MaxContentSize {
		return nil, WrapError(fmt.Errorf("body exceeds %d bytes", c.config.MaxContentSize), "response too large")
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       buf.Bytes(),
	}, nil
}

func (c *HTTPClient) send(req *HTTPRequest) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(requestContext(req), method, req.URL, body)
	if err != nil {
		return nil, WrapError(err, "failed to create HTTP request")
	}

	for key, value := range c.config.CustomHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "*/*")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errorwrapper.NewNetworkError(req.URL, "request failed", err)
	}
	return resp, nil
}

func requestContext(req *HTTPRequest) context.Context {
	if req.Context != nil {
		return req.Context
	}
	return context.Background()
}
