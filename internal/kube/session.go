package kube

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// tokenRereadInterval bounds how long a bearer token read from a file is
// reused before the file is read again. Projected service-account tokens
// rotate on disk, so the file is the source of truth.
const tokenRereadInterval = time.Minute

// SessionOptions selects how the API server is reached. When Server is
// set, requests go straight to it with a bearer token from TokenFile.
// Otherwise the in-cluster config is tried when Kubeconfig is empty, and
// finally the kubeconfig loading rules apply.
type SessionOptions struct {
	Kubeconfig            string
	Context               string
	Server                string
	TokenFile             string
	CAFile                string
	InsecureSkipTLSVerify bool
	ConnectTimeout        time.Duration
}

// Session is an authenticated route to one API server.
type Session struct {
	Host       string
	HTTPClient *http.Client
}

// NewSession builds the HTTP session. The returned client has no overall
// timeout; callers bound each request with a context deadline.
func NewSession(opts SessionOptions, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Server != "" {
		return tokenSession(opts, logger)
	}

	cfg, err := restConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	cfg.Dial = dialer.DialContext
	cfg.Timeout = 0

	if opts.InsecureSkipTLSVerify {
		cfg.Insecure = true
		cfg.CAFile = ""
		cfg.CAData = nil
	}

	httpClient, err := rest.HTTPClientFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("kube: building HTTP client: %w", err)
	}

	return &Session{Host: normalizeHost(cfg.Host), HTTPClient: httpClient}, nil
}

// restConfig resolves a client-go rest.Config from in-cluster settings
// or kubeconfig files.
func restConfig(opts SessionOptions, logger *slog.Logger) (*rest.Config, error) {
	if opts.Kubeconfig == "" && opts.Context == "" {
		cfg, err := rest.InClusterConfig()
		if err == nil {
			logger.Info("using in-cluster configuration", slog.String("host", cfg.Host))

			return cfg, nil
		}

		logger.Debug("in-cluster config not available, falling back to kubeconfig",
			slog.String("error", err.Error()),
		)
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kube: loading kubeconfig: %w", err)
	}

	logger.Info("using kubeconfig",
		slog.String("host", cfg.Host),
		slog.String("context", opts.Context),
	)

	return cfg, nil
}

// tokenSession connects directly to opts.Server with a bearer token
// re-read from opts.TokenFile.
func tokenSession(opts SessionOptions, logger *slog.Logger) (*Session, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.InsecureSkipTLSVerify {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit user opt-in
	} else if opts.CAFile != "" {
		pool, err := loadCAPool(opts.CAFile)
		if err != nil {
			return nil, err
		}

		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		ForceAttemptHTTP2:   true,
	}

	var transport http.RoundTripper = base

	if opts.TokenFile != "" {
		transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, &fileTokenSource{path: opts.TokenFile, logger: logger}),
			Base:   base,
		}
	}

	logger.Info("using direct server connection",
		slog.String("host", opts.Server),
		slog.Bool("token_file", opts.TokenFile != ""),
	)

	return &Session{
		Host:       normalizeHost(opts.Server),
		HTTPClient: &http.Client{Transport: transport},
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kube: reading CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("kube: no certificates found in %s", path)
	}

	return pool, nil
}

// fileTokenSource reads a bearer token from disk on every call. Wrapped
// in oauth2.ReuseTokenSource it is consulted once per tokenRereadInterval.
type fileTokenSource struct {
	path   string
	logger *slog.Logger
}

func (s *fileTokenSource) Token() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("kube: reading token file: %w", err)
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return nil, errors.New("kube: token file is empty")
	}

	s.logger.Debug("bearer token loaded", slog.String("path", s.path))

	return &oauth2.Token{
		AccessToken: tok,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(tokenRereadInterval),
	}, nil
}

// normalizeHost makes sure the host carries a scheme and no trailing slash.
func normalizeHost(host string) string {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	return strings.TrimSuffix(host, "/")
}
