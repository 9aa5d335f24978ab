package engine

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/scram/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/http/httpguts"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// HTTPConfig configures an HTTPEngine.
type HTTPConfig struct {
	// Timeout bounds a fetch end to end. Zero uses 30s.
	Timeout time.Duration

	// MaxBodyBytes caps the buffered body. Zero uses 10 MiB.
	MaxBodyBytes int64

	// Proxy is an optional http(s) proxy URL.
	Proxy string

	// RootCAs overrides the system roots for https verification.
	RootCAs *x509.CertPool
}

// HTTPEngine performs one-shot GET requests (direct mode). Each fetch builds
// its own client; no connections are shared between fetches.
type HTTPEngine struct {
	cfg HTTPConfig
}

// chromeH1Spec builds a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1. utls fills SNI and key shares into the spec's extensions during
// the handshake, so every connection needs its own spec.
func chromeH1Spec() (*tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}
	return &spec, nil
}

// NewHTTPEngine creates an HTTPEngine.
func NewHTTPEngine(cfg HTTPConfig) *HTTPEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPEngine{cfg: cfg}
}

func (e *HTTPEngine) Name() string { return "http" }

// newClient builds the per-fetch client. https dials present a Chrome TLS
// fingerprint.
func (e *HTTPEngine) newClient() *http.Client {
	transport := &http.Transport{
		DialTLSContext:    e.dialTLSChrome,
		ForceAttemptHTTP2: false,
	}
	if e.cfg.Proxy != "" {
		if proxyURL, err := url.Parse(e.cfg.Proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func (e *HTTPEngine) dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	spec, err := chromeH1Spec()
	if err != nil {
		return nil, fmt.Errorf("http_engine: build tls spec: %w", err)
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host, RootCAs: e.cfg.RootCAs}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Fetch performs a single GET. Non-2xx statuses are results, not errors.
// There is no retry.
func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, models.NewFetchError(models.ErrCodeInvalidInput,
			fmt.Sprintf("url %q is not an absolute http(s) URL", req.URL), err)
	}

	// Headers are checked before anything touches the network.
	if err := ValidateHeaders(req.Headers); err != nil {
		return nil, err
	}

	timeout := e.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInvalidInput, "failed to build request", err)
	}
	// Names go out as given; Host replaces the request host.
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header[k] = []string{v}
	}

	client := e.newClient()
	defer client.CloseIdleConnections()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, transportError(err, "failed to read body")
	}
	if int64(len(raw)) > e.cfg.MaxBodyBytes {
		return nil, models.NewFetchError(models.ErrCodeTransport,
			fmt.Sprintf("response body exceeds %d bytes", e.cfg.MaxBodyBytes), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := decodeBody(raw, contentType)
	if err != nil {
		return nil, err
	}

	var contentLength *uint64
	if resp.ContentLength >= 0 {
		n := uint64(resp.ContentLength)
		contentLength = &n
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vs := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}

	var title string
	if isHTMLContentType(contentType) {
		title = extractTitle(body)
	}

	return &FetchResult{
		Body:          body,
		Status:        uint16(resp.StatusCode),
		ContentLength: contentLength,
		Headers:       headers,
		Title:         title,
		FinalURL:      resp.Request.URL.String(),
		EngineName:    e.Name(),
	}, nil
}

// ValidateHeaders checks every name and value against HTTP field syntax.
func ValidateHeaders(headers map[string]string) error {
	for k, v := range headers {
		if !httpguts.ValidHeaderFieldName(k) {
			return models.NewFetchError(models.ErrCodeInvalidHeader,
				fmt.Sprintf("invalid header name %q", k), nil)
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return models.NewFetchError(models.ErrCodeInvalidHeader,
				fmt.Sprintf("invalid value for header %q", k), nil)
		}
	}
	return nil
}

// transportError maps client errors to ErrCodeTimeout, ErrCodeCanceled or
// ErrCodeTransport.
func transportError(err error, msg string) *models.FetchError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.FromContext(err, msg)
	case errors.As(err, &netErr) && netErr.Timeout():
		return models.NewFetchError(models.ErrCodeTimeout, msg+": timed out", err)
	default:
		return models.NewFetchError(models.ErrCodeTransport, msg, err)
	}
}

// decodeBody converts raw to UTF-8 text using the declared charset, or a
// sniffed one when none is declared.
func decodeBody(raw []byte, contentType string) (string, error) {
	declared := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		declared = params["charset"]
	}

	if declared == "" && utf8.Valid(raw) {
		return string(raw), nil
	}

	var name string
	if declared != "" {
		enc, n := charset.Lookup(declared)
		if enc == nil {
			return "", models.NewFetchError(models.ErrCodeDecode,
				fmt.Sprintf("unsupported charset %q", declared), nil)
		}
		name = n
		if name == "utf-8" {
			if !utf8.Valid(raw) {
				return "", models.NewFetchError(models.ErrCodeDecode, "body is not valid utf-8", nil)
			}
			return string(raw), nil
		}
		return decodeWith(raw, enc.NewDecoder().Bytes, name)
	}

	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	return decodeWith(raw, enc.NewDecoder().Bytes, name)
}

func decodeWith(raw []byte, decode func([]byte) ([]byte, error), name string) (string, error) {
	out, err := decode(raw)
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeDecode,
			fmt.Sprintf("failed to decode body as %s", name), err)
	}
	if !utf8.Valid(out) {
		return "", models.NewFetchError(models.ErrCodeDecode,
			fmt.Sprintf("body is not valid %s", name), nil)
	}
	return string(out), nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(bytes.NewReader([]byte(htmlStr)))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
