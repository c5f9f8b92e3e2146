// Package pinning gates remote signing on certificate pinning being set up
// for the signer host, and provides the TLS primitive that enforces the pins.
package pinning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/metrics"
	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

// PinSet is the pin configuration for one host.
type PinSet struct {
	Hashes            []string
	IncludeSubdomains bool
	// ExpirationDate is RFC 3339 or YYYY-MM-DD. Pins are not enforced after it.
	ExpirationDate string
}

// Pinner installs pin sets.
type Pinner interface {
	Available() bool
	Initialize(hostname string, pins PinSet) error
}

// Config is the pinning configuration for the signer proxy.
type Config struct {
	ProxyURL          string   `json:"proxyUrl"`
	PinnedHashes      []string `json:"pinnedHashes"`
	IncludeSubdomains bool     `json:"includeSubdomains"`
	ExpirationDate    string   `json:"expirationDate,omitempty"`
}

// Fingerprint is the hex sha256 of the canonical JSON of cfg. Hash order does
// not matter.
func Fingerprint(cfg Config) (string, error) {
	hashes := append([]string{}, cfg.PinnedHashes...)
	sort.Strings(hashes)
	cfg.PinnedHashes = hashes

	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal pinning config: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize pinning config: %w", err)
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// Gate initializes pinning at most once per distinct configuration.
type Gate struct {
	pinner  Pinner
	metrics *metrics.Metrics

	mu          sync.Mutex
	fingerprint string
}

// NewGate creates a Gate. pinner may be nil, in which case any configuration
// with pins fails with PINNING_UNAVAILABLE.
func NewGate(pinner Pinner, m *metrics.Metrics) *Gate {
	return &Gate{pinner: pinner, metrics: m}
}

// Ensure makes sure pins for cfg are installed. Without pinned hashes it does
// nothing. The fingerprint is remembered only after a successful init.
func (g *Gate) Ensure(ctx context.Context, cfg Config) error {
	if len(cfg.PinnedHashes) == 0 {
		return nil
	}

	fp, err := Fingerprint(cfg)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePinningInitFailed, "failed to fingerprint pinning config", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fingerprint == fp {
		return nil
	}

	if g.pinner == nil || !g.pinner.Available() {
		g.metrics.PinningInit("unavailable")
		return apperrors.Config(apperrors.ErrCodePinningUnavailable, "certificate pinning is not available")
	}

	u, err := url.Parse(cfg.ProxyURL)
	if err != nil || u.Hostname() == "" {
		g.metrics.PinningInit("failed")
		return apperrors.Config(apperrors.ErrCodePinningInitFailed, "cannot resolve signer hostname for pinning")
	}
	hostname := u.Hostname()

	if err := g.pinner.Initialize(hostname, PinSet{
		Hashes:            cfg.PinnedHashes,
		IncludeSubdomains: cfg.IncludeSubdomains,
		ExpirationDate:    cfg.ExpirationDate,
	}); err != nil {
		g.metrics.PinningInit("failed")
		return apperrors.Wrap(apperrors.ErrCodePinningInitFailed, "failed to initialize certificate pinning", err)
	}

	g.fingerprint = fp
	g.metrics.PinningInit("ok")
	logger.FromContext(ctx).Info("certificate pinning initialized",
		"host", hostname,
		"pins", len(cfg.PinnedHashes),
		"include_subdomains", cfg.IncludeSubdomains,
	)
	return nil
}
