// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package httpclient is the HTTP client fetching pages and their resources.
// Its [Transport] sends browser like headers, can refuse some
// destination networks and logs every request.
package httpclient

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"slices"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const levelTrace = slog.LevelDebug - 10

const uaString = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.3"

// defaultHeaders are the HTTP headers that are sent with every new request.
// They're attached to the transport and can be overridden and/or modified
// while using the associated client.
var defaultHeaders = http.Header{
	"User-Agent":                []string{uaString},
	"Accept":                    []string{"text/html,application/xhtml+xml,application/xml;q=0.9,image/jpeg,image/png,*/*;q=0.8"},
	"Accept-Language":           []string{"en-US,en;q=0.8"},
	"Upgrade-Insecure-Requests": []string{"1"},
}

// newRoundTripper returns the base transport. Resources of one page
// mostly come from a few hosts, so it keeps a few idle connections
// per host.
func newRoundTripper() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.MaxIdleConnsPerHost = 4
	t.IdleConnTimeout = 30 * time.Second
	t.TLSHandshakeTimeout = 10 * time.Second
	return t
}

// Transport wraps an [http.RoundTripper].
type Transport struct {
	http.RoundTripper
	header    http.Header
	logger    *slog.Logger
	deniedIPs []*net.IPNet
}

// RoundTrip implements [http.RoundTripper].
// It checks if the destination IP is allowed, adds default headers and
// logs (trace level) every request.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.checkDestIP(r); err != nil {
		return nil, err
	}

	// A RoundTripper must not modify the request.
	req := r.Clone(r.Context())
	if req.Header == nil {
		req.Header = http.Header{}
	}
	for k, values := range t.header {
		if _, ok := r.Header[textproto.CanonicalMIMEHeaderKey(k)]; !ok {
			req.Header[k] = values
		}
	}

	now := time.Now()
	rsp, err := t.RoundTripper.RoundTrip(req)

	attrs := []slog.Attr{
		slog.String("url", req.URL.String()),
		slog.String("method", req.Method),
		slog.Duration("time", time.Since(now)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", err))
	} else {
		attrs = append(attrs, slog.Int("status", rsp.StatusCode))
	}
	t.Log().LogAttrs(req.Context(), levelTrace, "request", attrs...)

	return rsp, err
}

// checkDestIP returns an error when the request host resolves to
// an address in one of the denied networks.
func (t *Transport) checkDestIP(r *http.Request) error {
	if len(t.deniedIPs) == 0 {
		return nil
	}

	hostname := r.URL.Hostname()
	host, err := idna.ToASCII(hostname)
	if err != nil {
		return fmt.Errorf("invalid hostname %s", hostname)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(r.Context(), host)
	if err != nil {
		return fmt.Errorf("cannot resolve %s", host)
	}

	for _, addr := range addrs {
		i := slices.IndexFunc(t.deniedIPs, func(n *net.IPNet) bool {
			return n.Contains(addr.IP)
		})
		if i >= 0 {
			return fmt.Errorf("ip %s is blocked by rule %s", addr.IP, t.deniedIPs[i])
		}
	}

	return nil
}

// Log returns the transport's logger.
func (t *Transport) Log() *slog.Logger {
	return t.logger
}

// SetHeader receives a function that can manipulate the
// transport's default headers.
func (t *Transport) SetHeader(fn func(h http.Header)) {
	fn(t.header)
}

// Option is a function that can set the client or its [Transport] options.
type Option func(c *http.Client, t *Transport)

// WithTimeout sets the client's timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client, _ *Transport) {
		c.Timeout = d
	}
}

// WithUserAgent replaces the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(_ *http.Client, t *Transport) {
		if ua != "" {
			t.header.Set("User-Agent", ua)
		}
	}
}

// WithHeaders adds or replaces default headers.
func WithHeaders(headers map[string]string) Option {
	return func(_ *http.Client, t *Transport) {
		for k, v := range headers {
			t.header.Set(k, v)
		}
	}
}

// WithDeniedIPs sets the networks the client refuses to connect to.
func WithDeniedIPs(networks []*net.IPNet) Option {
	return func(_ *http.Client, t *Transport) {
		t.deniedIPs = networks
	}
}

// WithLogger sets the transport's logger.
func WithLogger(l *slog.Logger) Option {
	return func(_ *http.Client, t *Transport) {
		t.logger = l
	}
}

// New returns a new client with an empty cookie storage and a [Transport] instance.
func New(options ...Option) *http.Client {
	cookies, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	t := &Transport{
		RoundTripper: newRoundTripper(),
		header:       defaultHeaders.Clone(),
		logger:       slog.Default(),
	}
	client := &http.Client{
		Transport: t,
		Timeout:   30 * time.Second,
		Jar:       cookies,
	}

	for _, fn := range options {
		fn(client, t)
	}

	return client
}
