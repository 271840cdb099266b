package discovery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// Default probe timeouts, overridable via ilo.client-timeout-connect and
// ilo.client-timeout-read.
const (
	DefaultConnectTimeout = 2000 * time.Millisecond
	DefaultReadTimeout    = 1000 * time.Millisecond
)

// maxProbeBody caps how much of a probe response is read. The management
// processor's unauthenticated XML answer is a few KB; anything larger is
// not an iLO.
const maxProbeBody = 1 << 20

// rimpPrefix is the expected start of the unauthenticated discovery
// document served by iLO management processors.
var rimpPrefix = []byte("<RIMP>")

// RegistrationChecker reports whether an address already belongs to a
// registered client. The prober short-circuits such addresses to true
// without touching the network.
type RegistrationChecker interface {
	IsRegisteredAddress(addr netaddr.IPv4Address) bool
}

// ProbeConfig holds the HTTP timeouts for the identification probe.
type ProbeConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Prober decides whether an address hosts an iLO management processor by
// fetching its unauthenticated XML discovery document over HTTPS.
type Prober struct {
	cfg        ProbeConfig
	blacklist  *Blacklist
	registered RegistrationChecker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewProber creates a prober. limiter may be nil for unlimited probing;
// registered may be nil when no registration set exists yet.
func NewProber(cfg ProbeConfig, blacklist *Blacklist, registered RegistrationChecker, limiter *rate.Limiter, logger *zap.Logger) *Prober {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Prober{
		cfg:        cfg,
		blacklist:  blacklist,
		registered: registered,
		limiter:    limiter,
		logger:     logger,
	}
}

// IsILO reports whether the address answers as an iLO. Blacklisted
// addresses are false without a probe; addresses of registered clients are
// true without a probe. Any probe failure blacklists the address.
func (p *Prober) IsILO(ctx context.Context, addr netaddr.IPv4Address) bool {
	if p.blacklist.Contains(addr) {
		return false
	}
	if p.registered != nil && p.registered.IsRegisteredAddress(addr) {
		return true
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false
		}
	}

	body, err := p.Fetch(ctx, addr)
	if err != nil {
		p.blacklist.Add(addr)
		p.logProbeFailure(addr, err)
		return false
	}

	if err := validateRIMP(body); err != nil {
		p.blacklist.Add(addr)
		p.logger.Info("probe response rejected",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
		return false
	}

	return true
}

// Recheck reports whether a previously identified iLO still answers with
// its discovery document. Unlike IsILO it never trusts the registration
// set and never blacklists on failure: a registered machine that is dark
// right now may come back, and the health counter handles the decay.
func (p *Prober) Recheck(ctx context.Context, addr netaddr.IPv4Address) bool {
	if p.blacklist.Contains(addr) {
		return false
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return false
		}
	}

	body, err := p.Fetch(ctx, addr)
	if err != nil {
		p.logProbeFailure(addr, err)
		return false
	}
	if err := validateRIMP(body); err != nil {
		p.logger.Info("recheck response rejected",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Fetch retrieves the unauthenticated discovery document from the address.
// A fresh client is built per call so the trust-all TLS configuration
// never leaks into other HTTP traffic in the process.
func (p *Prober) Fetch(ctx context.Context, addr netaddr.IPv4Address) ([]byte, error) {
	url := fmt.Sprintf("https://%s/xmldata?item=all", addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}

	client := p.newClient()
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe %s: status %d", addr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, fmt.Errorf("probe %s: read body: %w", addr, err)
	}
	return body, nil
}

// newClient builds a single-use HTTP client. The management processors
// serve self-signed certificates, so verification is skipped on this
// client only.
func (p *Prober) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: p.cfg.ConnectTimeout}
	return &http.Client{
		Timeout: p.cfg.ConnectTimeout + p.cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   p.cfg.ConnectTimeout,
			ResponseHeaderTimeout: p.cfg.ReadTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: true, //nolint:gosec // G402: iLOs ship self-signed certs
			},
			DisableKeepAlives: true,
		},
	}
}

// validateRIMP checks that the body is the iLO discovery document: it must
// begin with the RIMP open tag and parse as a complete, well-formed XML
// document rooted at RIMP. Entity expansion is not honored.
func validateRIMP(body []byte) error {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(trimmed, rimpPrefix) {
		return errors.New("body does not start with RIMP document")
	}

	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	dec.Strict = true
	dec.Entity = map[string]string{}
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) && sawRoot {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse probe response: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok && !sawRoot {
			if start.Name.Local != "RIMP" {
				return fmt.Errorf("unexpected root element %q", start.Name.Local)
			}
			sawRoot = true
		}
	}
}

// logProbeFailure logs a failed probe. Timeouts (see isConnectTimeout) are
// the common case on a sparse subnet and stay at debug; everything else is
// info.
func (p *Prober) logProbeFailure(addr netaddr.IPv4Address, err error) {
	if isConnectTimeout(err) {
		p.logger.Debug("probe connect timed out", zap.String("address", addr.String()))
		return
	}
	p.logger.Info("probe failed",
		zap.String("address", addr.String()),
		zap.Error(err),
	)
}

// isConnectTimeout reports whether the error chain is a timeout of any
// probe phase: a net.Error with Timeout(), context.DeadlineExceeded, or
// an error whose text contains "timeout".
func isConnectTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
