package fetch

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"

	"github.com/qazdata/goszakup-etl/pkg/logger"
)

// Transport tuning for a single-origin API client. A full load issues
// tens of thousands of sequential requests against one host, so
// connection reuse dominates over pool breadth.
const (
	dialTimeout           = 10 * time.Second
	keepAlive             = 30 * time.Second
	maxIdleConns          = 32
	maxIdleConnsPerHost   = 16
	idleConnTimeout       = 90 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
)

// newHTTPClient builds the pooled HTTP client used by a Fetcher. When a
// bearer token is configured every request carries it via an oauth2
// transport wrapped around the pooled base transport.
func newHTTPClient(token string, timeout time.Duration, insecureSkipVerify bool) *http.Client {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // operator opt-in for broken intermediates
			MinVersion:         tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(base); err != nil {
		logger.Warn("failed to configure HTTP/2, staying on HTTP/1.1", zap.Error(err))
	}

	var rt http.RoundTripper = base
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   base,
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}
