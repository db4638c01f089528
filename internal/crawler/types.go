package crawler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mode selects the fetch strategy a Fetcher is built with.
type Mode string

// Supported fetch modes.
const (
	ModeHTTP    Mode = "http"
	ModeBrowser Mode = "browser"
)

// FetcherConfig captures the construction options recognized by every Fetcher.
type FetcherConfig struct {
	Mode             Mode
	Proxy            string
	Headless         bool
	Timeout          time.Duration
	UserAgent        string
	CloudflareBypass bool
	Retry            RetryPolicy
}

// WithDefaults fills unset fields with the documented defaults.
func (c FetcherConfig) WithDefaults() FetcherConfig {
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = RandomUserAgent()
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// PostRequest describes a JSON POST issued through an HTTP-mode Fetcher.
// A nil Body is sent as an empty JSON object.
type PostRequest struct {
	URL     string
	Headers map[string]string
	Body    map[string]any
}

// Payload returns the body to send, never nil.
func (r PostRequest) Payload() map[string]any {
	if r.Body == nil {
		return map[string]any{}
	}
	return r.Body
}

// Response is the raw result of a successful POST.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
