package pipeline

import (
	"net"
	"net/http"
	"time"
)

// NewPooledHTTPClient returns the client shared by the TTS backends. A
// with-timestamps synthesis response arrives only once the whole script is
// rendered, so the header timeout equals the request timeout.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
