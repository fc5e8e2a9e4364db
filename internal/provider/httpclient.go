package provider

import (
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultAPIBase     = "https://api.openai.com/v1"
	defaultHTTPTimeout = 120 * time.Second
)

// SharedHTTPClient returns an HTTP client with connection pooling, shared by
// the SDK client and the plain-HTTP backends.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ClientConfig configures the hosted-model API client.
type ClientConfig struct {
	APIKey     string
	APIBase    string // OpenAI-compatible base URL, e.g. "https://api.openai.com/v1"
	HTTPClient *http.Client
}

// NewClient builds an SDK client. The SDK's automatic retries are disabled:
// a failed call is reported once and the caller falls back.
func NewClient(cfg ClientConfig) openai.Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	return openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.APIBase),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	)
}
