// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package httpclient_test

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/savecomplete/internal/httpclient"
)

type echoResponse struct {
	URL    string
	Method string
	Header http.Header
}

func transportOf(client *http.Client) *httpclient.Transport {
	switch t := client.Transport.(type) {
	case *httpclient.CacheTransport:
		return t.Transport
	case *httpclient.Transport:
		return t
	}
	return nil
}

func mockResponder(client *http.Client) (*httpmock.MockTransport, func()) {
	tr := transportOf(client)
	ot := tr.RoundTripper
	mt := httpmock.NewMockTransport()

	mt.RegisterResponder("GET", `=~.*`,
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, echoResponse{
				URL:    req.URL.String(),
				Method: req.Method,
				Header: req.Header,
			})
		})

	tr.RoundTripper = mt

	return mt, func() {
		tr.RoundTripper = ot
	}
}

func getEcho(t *testing.T, client *http.Client, uri string) echoResponse {
	t.Helper()
	rsp, err := client.Get(uri)
	require.NoError(t, err)
	defer rsp.Body.Close() //nolint:errcheck

	var data echoResponse
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&data))
	return data
}

func TestClient(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		t.Run("request", func(t *testing.T) {
			assert := require.New(t)

			client := httpclient.New()
			_, deactivate := mockResponder(client)
			defer deactivate()

			data := getEcho(t, client, "https://example.net/")
			assert.Equal("https://example.net/", data.URL)
			assert.Equal("GET", data.Method)
			assert.Contains(data.Header, "User-Agent")
			assert.Equal("en-US,en;q=0.8", data.Header.Get("Accept-Language"))
			assert.Equal(30*time.Second, client.Timeout)
		})

		t.Run("SetHeader", func(t *testing.T) {
			assert := require.New(t)

			client := httpclient.New()
			_, deactivate := mockResponder(client)
			defer deactivate()

			transportOf(client).SetHeader(func(h http.Header) {
				h.Set("x-test", "abc")
			})

			data := getEcho(t, client, "https://example.net/")
			assert.Equal("abc", data.Header.Get("x-test"))
		})

		t.Run("request headers win", func(t *testing.T) {
			assert := require.New(t)

			client := httpclient.New()
			_, deactivate := mockResponder(client)
			defer deactivate()

			req, _ := http.NewRequest(http.MethodGet, "https://example.net/", nil)
			req.Header.Set("Referer", "https://example.net/page")
			req.Header.Set("Accept", "text/css")
			rsp, err := client.Do(req)
			assert.NoError(err)
			defer rsp.Body.Close() //nolint:errcheck

			var data echoResponse
			assert.NoError(json.NewDecoder(rsp.Body).Decode(&data))
			assert.Equal("https://example.net/page", data.Header.Get("Referer"))
			assert.Equal("text/css", data.Header.Get("Accept"))
		})
	})

	t.Run("options", func(t *testing.T) {
		assert := require.New(t)

		client := httpclient.New(
			httpclient.WithTimeout(5*time.Second),
			httpclient.WithUserAgent("savecomplete/test"),
			httpclient.WithHeaders(map[string]string{"Accept-Language": "fr"}),
		)
		_, deactivate := mockResponder(client)
		defer deactivate()

		assert.Equal(5*time.Second, client.Timeout)

		data := getEcho(t, client, "https://example.net/")
		assert.Equal("savecomplete/test", data.Header.Get("User-Agent"))
		assert.Equal("fr", data.Header.Get("Accept-Language"))
	})

	t.Run("denied IPs", func(t *testing.T) {
		assert := require.New(t)

		_, local, _ := net.ParseCIDR("127.0.0.0/8")
		client := httpclient.New(httpclient.WithDeniedIPs([]*net.IPNet{local}))
		_, deactivate := mockResponder(client)
		defer deactivate()

		_, err := client.Get("http://127.0.0.1/")
		assert.ErrorContains(err, "ip 127.0.0.1 is blocked by rule 127.0.0.0/8")
	})
}

func TestCache(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		assert := require.New(t)

		client := httpclient.NewCacheClient(nil)
		mt, deactivate := mockResponder(client)
		defer deactivate()

		header := http.Header{"Content-Type": {"text/css"}}
		httpclient.AddToCache(client, "https://example.net/s.css", header, []byte(".x{}"))
		assert.True(httpclient.IsInCache(client, "https://example.net/s.css#a"))
		assert.False(httpclient.IsInCache(client, "https://example.net/t.css"))

		rsp, err := client.Get("https://example.net/s.css")
		assert.NoError(err)
		defer rsp.Body.Close() //nolint:errcheck

		body, _ := io.ReadAll(rsp.Body)
		assert.Equal(200, rsp.StatusCode)
		assert.Equal("text/css", rsp.Header.Get("Content-Type"))
		assert.Equal(".x{}", string(body))
		assert.Equal(0, mt.GetTotalCallCount())
		assert.Equal(1, httpclient.CacheHits(client))

		// Not cached
		data := getEcho(t, client, "https://example.net/t.css")
		assert.Equal("https://example.net/t.css", data.URL)
		assert.Equal(1, mt.GetTotalCallCount())
	})

	t.Run("check", func(t *testing.T) {
		assert := require.New(t)

		client := httpclient.NewCacheClient(func(r *http.Request) bool {
			return r.URL.Query().Get("nocache") == ""
		})
		mt, deactivate := mockResponder(client)
		defer deactivate()

		httpclient.AddToCache(client, "https://example.net/?nocache=1", http.Header{}, []byte("cached"))

		data := getEcho(t, client, "https://example.net/?nocache=1")
		assert.Equal("https://example.net/?nocache=1", data.URL)
		assert.Equal(1, mt.GetTotalCallCount())
		assert.Equal(0, httpclient.CacheHits(client))
	})

	t.Run("no cache transport", func(t *testing.T) {
		assert := require.New(t)

		client := httpclient.New()
		httpclient.AddToCache(client, "https://example.net/", http.Header{}, nil)
		assert.False(httpclient.IsInCache(client, "https://example.net/"))
		assert.Equal(0, httpclient.CacheHits(client))
	})
}
