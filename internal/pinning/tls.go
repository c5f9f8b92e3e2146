package pinning

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrPinMismatch is returned by the TLS handshake when no certificate in the
// chain matches the host's pins.
var ErrPinMismatch = errors.New("certificate does not match any pinned key")

type hostPins struct {
	hashes            map[string]struct{}
	includeSubdomains bool
	expires           time.Time
}

// TLSPinner enforces base64 SHA-256 SPKI pins on TLS connections made
// through its transport.
type TLSPinner struct {
	base *tls.Config
	now  func() time.Time

	mu   sync.RWMutex
	pins map[string]hostPins
}

// NewTLSPinner creates a pinner. base carries roots and client certificates
// and may be nil.
func NewTLSPinner(base *tls.Config) *TLSPinner {
	if base == nil {
		base = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &TLSPinner{base: base, now: time.Now, pins: make(map[string]hostPins)}
}

func (p *TLSPinner) Available() bool { return true }

// Initialize replaces the pin set for hostname.
func (p *TLSPinner) Initialize(hostname string, pins PinSet) error {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if len(pins.Hashes) == 0 {
		return fmt.Errorf("at least one pin is required")
	}

	set := hostPins{hashes: make(map[string]struct{}, len(pins.Hashes)), includeSubdomains: pins.IncludeSubdomains}
	for _, h := range pins.Hashes {
		h = strings.TrimPrefix(strings.TrimSpace(h), "sha256/")
		raw, err := base64.StdEncoding.DecodeString(h)
		if err != nil || len(raw) != sha256.Size {
			return fmt.Errorf("pin %q is not a base64 sha256 hash", h)
		}
		set.hashes[h] = struct{}{}
	}
	if pins.ExpirationDate != "" {
		expires, err := parseExpiration(pins.ExpirationDate)
		if err != nil {
			return err
		}
		set.expires = expires
	}

	p.mu.Lock()
	p.pins[hostname] = set
	p.mu.Unlock()
	return nil
}

func parseExpiration(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid pin expiration date %q", s)
}

// pinsFor returns the active pins for host: an exact entry, or a parent
// domain entry with subdomains included.
func (p *TLSPinner) pinsFor(host string) (hostPins, bool) {
	host = strings.ToLower(host)
	p.mu.RLock()
	defer p.mu.RUnlock()

	if set, ok := p.pins[host]; ok {
		return set, true
	}
	for domain, set := range p.pins {
		if set.includeSubdomains && strings.HasSuffix(host, "."+domain) {
			return set, true
		}
	}
	return hostPins{}, false
}

// Verify checks a completed handshake against the pins for host.
func (p *TLSPinner) Verify(host string, cs tls.ConnectionState) error {
	set, ok := p.pinsFor(host)
	if !ok {
		return nil
	}
	if !set.expires.IsZero() && p.now().After(set.expires) {
		return nil
	}

	// Only chains that verified to a trusted root count. PeerCertificates
	// is whatever the server sent and may carry a copy of a pinned cert.
	for _, chain := range cs.VerifiedChains {
		for _, cert := range chain {
			if _, ok := set.hashes[SPKIHash(cert)]; ok {
				return nil
			}
		}
	}
	return fmt.Errorf("%w for host %s", ErrPinMismatch, host)
}

// Transport returns an HTTP transport whose TLS handshakes are pin checked.
func (p *TLSPinner) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialTLSContext = p.dialTLS
	return t
}

func (p *TLSPinner) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	cfg := p.base.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return p.Verify(host, cs)
	}
	dialer := &tls.Dialer{Config: cfg}
	return dialer.DialContext(ctx, network, addr)
}

// SPKIHash returns the base64 SHA-256 of the certificate's public key info.
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ClientTLSConfig loads an optional CA bundle and an optional client key pair
// for mTLS. requireClientCert fails when the pair is missing.
func ClientTLSConfig(caFile, certFile, keyFile string, requireClientCert bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		caBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate from %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		cfg.RootCAs = pool
	}

	if certFile == "" || keyFile == "" {
		if requireClientCert {
			return nil, fmt.Errorf("mTLS requires a client certificate and key")
		}
		return cfg, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}
