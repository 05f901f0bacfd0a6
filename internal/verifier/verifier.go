// Package verifier authenticates inbound platform requests: it establishes
// that the signing certificate chains to a trusted root and covers the
// platform's signing domain, that the detached signature verifies over the
// exact raw body bytes, and that the claimed timestamp is fresh.
package verifier

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	_ "crypto/sha1"

	"github.com/tjfontaine/voicegate/internal/domain"
)

// CertificateFetcher retrieves the PEM-encoded signing-certificate chain
// document from the platform.
type CertificateFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TrustedCertificate is a signing certificate that has passed chain-of-trust,
// validity-interval, and domain-coverage checks. It is request-scoped except
// for its presence in the short-lived cache, where it is revalidated for
// expiry on every use.
type TrustedCertificate struct {
	PublicKey      crypto.PublicKey
	Fingerprint    string
	NotBefore      time.Time
	NotAfter       time.Time
	ChainDepth     int
	DomainVerified bool
}

// Options configures a Verifier. All trust inputs are explicit; there is no
// process-wide trust store.
type Options struct {
	// Roots is the trusted root certificate pool.
	Roots *x509.CertPool

	// SigningDomain is the hostname the leaf certificate must cover.
	SigningDomain string

	// ChainHost, ChainPort, and ChainPathPrefix constrain the certificate
	// chain URL to the platform's published location. ChainPort may be empty
	// to accept only the scheme default.
	ChainHost       string
	ChainPort       string
	ChainPathPrefix string

	// MaxChainDepth bounds the accepted chain length, leaf included.
	MaxChainDepth int

	// Hashes is the allow-list of hash algorithms for the RSA body signature.
	Hashes []crypto.Hash

	// Tolerance is the allowed skew between the claimed request timestamp and
	// the verifier's clock. The boundary is inclusive.
	Tolerance time.Duration

	// Fetcher retrieves the chain document.
	Fetcher CertificateFetcher
}

// Verifier authenticates requests against a fixed trust configuration. It is
// safe for concurrent use; the only shared state is the certificate cache.
type Verifier struct {
	opts  Options
	cache *certCache
}

// New creates a Verifier. The trust inputs (roots, signing domain, chain
// location, fetcher) have no safe defaults and must be supplied; an empty one
// would widen what checkSource or verifyChain accepts. Tunables get
// conservative defaults: chain depth 5, SHA-1 RSA signatures, 150 second
// tolerance.
func New(opts Options) (*Verifier, error) {
	switch {
	case opts.Roots == nil:
		return nil, errors.New("verifier: trusted root pool is required")
	case opts.SigningDomain == "":
		return nil, errors.New("verifier: signing domain is required")
	case opts.ChainHost == "":
		return nil, errors.New("verifier: chain host is required")
	case opts.ChainPathPrefix == "":
		return nil, errors.New("verifier: chain path prefix is required")
	case opts.Fetcher == nil:
		return nil, errors.New("verifier: certificate fetcher is required")
	}

	if opts.MaxChainDepth <= 0 {
		opts.MaxChainDepth = 5
	}
	if len(opts.Hashes) == 0 {
		opts.Hashes = []crypto.Hash{crypto.SHA1}
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 150 * time.Second
	}
	return &Verifier{opts: opts, cache: newCertCache()}, nil
}

// Verify authenticates a single request. rawBody must be the exact bytes the
// platform signed; a re-serialized form will not verify. now is injected so
// validity and skew checks are testable.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, signatureB64, chainURL string, claimed, now time.Time) (*TrustedCertificate, error) {
	if err := v.checkSource(chainURL); err != nil {
		return nil, err
	}

	tc, err := v.trustedCertificate(ctx, chainURL, now)
	if err != nil {
		return nil, err
	}

	if err := v.checkSignature(tc, rawBody, signatureB64); err != nil {
		return nil, err
	}

	if err := v.checkTimestamp(claimed, now); err != nil {
		return nil, err
	}

	return tc, nil
}

// checkSource rejects chain URLs that do not point at the platform's
// published signing-certificate location.
func (v *Verifier) checkSource(chainURL string) error {
	u, err := url.Parse(chainURL)
	if err != nil {
		return domain.ErrUntrustedSource("certificate chain URL is not a valid URL").WithDetail(err.Error())
	}

	if !strings.EqualFold(u.Scheme, "https") {
		return domain.ErrUntrustedSource("certificate chain URL scheme must be https")
	}
	if !strings.EqualFold(u.Hostname(), v.opts.ChainHost) {
		return domain.ErrUntrustedSource("certificate chain URL host is not the platform signing host")
	}
	if port := u.Port(); port != "" && port != v.opts.ChainPort {
		return domain.ErrUntrustedSource("certificate chain URL port is not the platform signing port")
	}

	prefix := strings.TrimSuffix(v.opts.ChainPathPrefix, "/")
	if cleaned := path.Clean(u.Path); !strings.HasPrefix(cleaned, prefix+"/") {
		return domain.ErrUntrustedSource("certificate chain URL path is outside the platform signing prefix")
	}

	return nil
}

// trustedCertificate returns a verified certificate for chainURL, consulting
// the cache first. Cache entries outside their validity interval are never
// trusted; the chain is refetched and verified from scratch, which re-rejects
// a genuinely expired certificate.
func (v *Verifier) trustedCertificate(ctx context.Context, chainURL string, now time.Time) (*TrustedCertificate, error) {
	if tc, ok := v.cache.get(chainURL, now); ok {
		return tc, nil
	}

	data, err := v.opts.Fetcher.Fetch(ctx, chainURL)
	if err != nil {
		return nil, domain.ErrCertificateFetchFailed("could not retrieve certificate chain").WithDetail(err.Error())
	}

	tc, err := v.verifyChain(data, now)
	if err != nil {
		return nil, err
	}

	// Concurrent verifications of the same URL race here; insert-or-replace
	// is safe because both entries passed identical checks.
	v.cache.put(chainURL, tc)
	return tc, nil
}

// verifyChain parses the PEM chain document and validates the leaf against
// the configured roots, validity window, depth bound, and signing domain.
func (v *Verifier) verifyChain(data []byte, now time.Time) (*TrustedCertificate, error) {
	certs, err := parsePEMCertificates(data)
	if err != nil {
		return nil, domain.ErrInvalidCertificate("certificate chain document is not valid PEM").WithDetail(err.Error())
	}
	if len(certs) == 0 {
		return nil, domain.ErrInvalidCertificate("certificate chain document contains no certificates")
	}

	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.opts.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, domain.ErrInvalidCertificate("certificate does not chain to a trusted root").WithDetail(err.Error())
	}

	depth := len(chains[0])
	for _, chain := range chains[1:] {
		if len(chain) < depth {
			depth = len(chain)
		}
	}
	if depth > v.opts.MaxChainDepth {
		return nil, domain.ErrInvalidCertificate("certificate chain exceeds maximum depth").
			WithDetail(fmt.Sprintf("depth %d > max %d", depth, v.opts.MaxChainDepth))
	}

	if err := leaf.VerifyHostname(v.opts.SigningDomain); err != nil {
		return nil, domain.ErrInvalidCertificate("certificate does not cover the platform signing domain").WithDetail(err.Error())
	}

	sum := sha256.Sum256(leaf.Raw)
	return &TrustedCertificate{
		PublicKey:      leaf.PublicKey,
		Fingerprint:    hex.EncodeToString(sum[:]),
		NotBefore:      leaf.NotBefore,
		NotAfter:       leaf.NotAfter,
		ChainDepth:     depth,
		DomainVerified: true,
	}, nil
}

// checkSignature verifies the base64 detached signature over the exact raw
// body bytes under the certificate's RSA key and an allow-listed hash.
func (v *Verifier) checkSignature(tc *TrustedCertificate, rawBody []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return domain.ErrSignatureMismatch("signature is not valid base64").WithDetail(err.Error())
	}

	pub, ok := tc.PublicKey.(*rsa.PublicKey)
	if !ok {
		return domain.ErrSignatureMismatch("certificate key algorithm is not in the allow-list")
	}

	for _, h := range v.opts.Hashes {
		hasher := h.New()
		hasher.Write(rawBody)
		if rsa.VerifyPKCS1v15(pub, h, hasher.Sum(nil), sig) == nil {
			return nil
		}
	}

	return domain.ErrSignatureMismatch("signature does not verify over the request body")
}

// checkTimestamp accepts a claimed timestamp within the tolerance of now,
// boundary inclusive.
func (v *Verifier) checkTimestamp(claimed, now time.Time) error {
	if claimed.IsZero() {
		return domain.ErrTimestampOutOfRange("request timestamp is missing")
	}
	skew := now.Sub(claimed)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.opts.Tolerance {
		return domain.ErrTimestampOutOfRange("request timestamp is outside the allowed skew").
			WithDetail(fmt.Sprintf("skew %s > tolerance %s", skew, v.opts.Tolerance))
	}
	return nil
}

// parsePEMCertificates decodes every CERTIFICATE block in data, in order.
func parsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
