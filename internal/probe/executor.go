package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"probewatch/internal/config"
	"probewatch/internal/model"
)

// Executor runs built probe requests over HTTP, optionally tunneled
// through an HTTP or SOCKS proxy. Proxy-bound clients are cached by URL
// for the process lifetime so repeated probes against the same channel
// reuse connections.
type Executor struct {
	defaultClient *http.Client

	proxyMu      sync.Mutex
	proxyClients map[string]*http.Client
}

// NewExecutor builds an Executor with the transport settings the
// teacher repo uses for its own upstream HTTP client.
func NewExecutor() *Executor {
	return &Executor{
		defaultClient: &http.Client{Transport: newTransport(nil)},
		proxyClients:  make(map[string]*http.Client),
	}
}

func newTransport(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		MaxConnsPerHost:     100,
	}
	if dial != nil {
		t.DialContext = dial
	}
	return t
}

// Execute issues the request built for job's EndpointKind and returns
// its outcome. It never returns a Go error — transport, protocol, and
// parse failures are all encoded as ProbeOutcome{Status: fail}.
func (e *Executor) Execute(ctx context.Context, job *model.ProbeJob, req *BuiltRequest) *model.ProbeOutcome {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, config.ProbeDefaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(timeoutCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return failOutcome(job.EndpointKind, time.Since(start), classifyError(err))
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	client, err := e.ClientFor(job.ProxyURL)
	if err != nil {
		return failOutcome(job.EndpointKind, time.Since(start), "invalid proxy url: "+err.Error())
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return failOutcome(job.EndpointKind, time.Since(start), classifyError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	latency := time.Since(start)
	if err != nil {
		return failOutcome(job.EndpointKind, latency, classifyError(err))
	}

	status, errMsg := ParseOutcome(job.EndpointKind, resp.StatusCode, body)
	httpStatus := resp.StatusCode
	outcome := &model.ProbeOutcome{
		EndpointKind:    job.EndpointKind,
		Status:          status,
		LatencyMS:       latency.Milliseconds(),
		HTTPStatus:      &httpStatus,
		ResponseContent: model.TruncateResponseContent(string(body)),
	}
	if status == model.ProbeStatusFail {
		if errMsg == "" {
			errMsg = model.TruncateErrorMessage(strings.TrimSpace(string(body)))
		}
		outcome.ErrorMessage = errMsg
	}
	return outcome
}

func failOutcome(kind model.EndpointKind, latency time.Duration, errMsg string) *model.ProbeOutcome {
	return &model.ProbeOutcome{
		EndpointKind: kind,
		Status:       model.ProbeStatusFail,
		LatencyMS:    latency.Milliseconds(),
		ErrorMessage: model.TruncateErrorMessage(errMsg),
	}
}

// classifyError maps a transport-level error to one of the fixed
// vocabulary strings the data model's errorMsg field carries.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancel"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns failure"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if strings.Contains(opErr.Err.Error(), "connection refused") {
			return "connection refused"
		}
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) || strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:") {
		return "tls error"
	}

	return err.Error()
}

// ClientFor returns the cached client for proxyURL, building and
// caching one on first use. An empty proxyURL returns the default
// direct client. Exported so other callers that must honor a channel's
// proxy rules outside of Execute (the catalog syncer) reuse the same
// cache instead of building their own client per call.
func (e *Executor) ClientFor(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return e.defaultClient, nil
	}

	e.proxyMu.Lock()
	defer e.proxyMu.Unlock()
	if c, ok := e.proxyClients[proxyURL]; ok {
		return c, nil
	}

	c, err := buildProxyClient(proxyURL)
	if err != nil {
		return nil, err
	}
	e.proxyClients[proxyURL] = c
	return c, nil
}

// buildProxyClient dispatches on URL scheme: http(s) proxies use the
// transport's native CONNECT support, socks5/socks5h tunnel every dial
// through golang.org/x/net/proxy's registered SOCKS5 dialer.
//
// socks4:// and socks:// are accepted at the channel-config level but
// golang.org/x/net/proxy only ever registers a socks5 dialer type
// (proxy.FromURL's internal proxySchemes map has no socks4 entry, and
// the package exposes no public SOCKS4 constructor to register one
// with) - no example repo in this codebase's lineage carries a separate
// SOCKS4 client library either. Rather than let that surface as
// proxy.FromURL's opaque "unknown scheme" error, these are rejected
// here with an explicit message naming the limitation.
func buildProxyClient(proxyURL string) (*http.Client, error) {
	u, err := neturl.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		t := newTransport(nil)
		t.Proxy = http.ProxyURL(u)
		return &http.Client{Transport: t}, nil

	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, err
		}
		dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
			if d, ok := dialer.(proxy.ContextDialer); ok {
				return d.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		return &http.Client{Transport: newTransport(dial)}, nil

	case "socks4", "socks4a", "socks":
		return nil, fmt.Errorf("proxy scheme %q is not supported: only socks5/socks5h SOCKS proxies are implemented", u.Scheme)

	default:
		return nil, errors.New("unsupported proxy scheme: " + u.Scheme)
	}
}
