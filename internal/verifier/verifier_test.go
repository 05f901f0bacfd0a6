package verifier

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/voicegate/internal/domain"
)

const (
	testSigningDomain = "echo-api.amazon.com"
	testChainHost     = "s3.amazonaws.com"
	testChainURL      = "https://s3.amazonaws.com/echo.api/cert.pem"
)

// testCA is a self-signed signing certificate with its key and PEM encoding.
type testCA struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	pem  []byte
}

func newTestCA(t *testing.T, notBefore, notAfter time.Time, dnsNames []string) *testCA {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: dnsNames[0]},
		DNSNames:              dnsNames,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}

	return &testCA{
		key:  key,
		cert: cert,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (ca *testCA) pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return pool
}

// sign produces the platform's base64 SHA1-RSA detached signature over body.
func (ca *testCA) sign(t *testing.T, body []byte) string {
	t.Helper()
	digest := sha1.Sum(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, ca.key, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// signWith signs body under an arbitrary hash algorithm.
func (ca *testCA) signWith(t *testing.T, h crypto.Hash, body []byte) string {
	t.Helper()
	hasher := h.New()
	hasher.Write(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, ca.key, h, hasher.Sum(nil))
	if err != nil {
		t.Fatalf("SignPKCS1v15() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// issueDER signs a leaf certificate for dnsNames under ca and returns its DER.
func (ca *testCA) issueDER(t *testing.T, pub any, notBefore, notAfter time.Time, dnsNames []string) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: dnsNames[0]},
		DNSNames:              dnsNames,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, pub, ca.key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	return der
}

// issueLeaf creates an RSA leaf signed by ca. The returned testCA's pem holds
// the chain document, leaf first then issuer.
func (ca *testCA) issueLeaf(t *testing.T, notBefore, notAfter time.Time, dnsNames []string) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der := ca.issueDER(t, &key.PublicKey, notBefore, notAfter, dnsNames)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return &testCA{key: key, cert: cert, pem: append(leafPEM, ca.pem...)}
}

// fakeFetcher serves a fixed chain document without touching the network.
type fakeFetcher struct {
	data  []byte
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newTestVerifier(t *testing.T, ca *testCA, fetcher CertificateFetcher) *Verifier {
	t.Helper()
	v, err := New(Options{
		Roots:           ca.pool(),
		SigningDomain:   testSigningDomain,
		ChainHost:       testChainHost,
		ChainPort:       "443",
		ChainPathPrefix: "/echo.api/",
		Tolerance:       150 * time.Second,
		Fetcher:         fetcher,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func wantCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var perr *domain.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *domain.PipelineError, got %T: %v", err, err)
	}
	if perr.Code != code {
		t.Errorf("error code = %s, want %s (err: %v)", perr.Code, code, err)
	}
}

// Trust inputs have no safe defaults: leaving one empty must fail construction
// instead of silently widening what the verifier accepts.
func TestNew_RequiresTrustOptions(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	valid := func() Options {
		return Options{
			Roots:           ca.pool(),
			SigningDomain:   testSigningDomain,
			ChainHost:       testChainHost,
			ChainPort:       "443",
			ChainPathPrefix: "/echo.api/",
			Fetcher:         &fakeFetcher{data: ca.pem},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"nil roots", func(o *Options) { o.Roots = nil }},
		{"empty signing domain", func(o *Options) { o.SigningDomain = "" }},
		{"empty chain host", func(o *Options) { o.ChainHost = "" }},
		{"empty chain path prefix", func(o *Options) { o.ChainPathPrefix = "" }},
		{"nil fetcher", func(o *Options) { o.Fetcher = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid()
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New() error = nil, want non-nil")
			}
		})
	}

	if _, err := New(valid()); err != nil {
		t.Errorf("New() with complete options error = %v", err)
	}
}

func TestVerify_Valid(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})

	body := []byte(`{"request":{"type":"LaunchRequest"}}`)
	tc, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !tc.DomainVerified {
		t.Error("DomainVerified = false, want true")
	}
	if tc.ChainDepth != 1 {
		t.Errorf("ChainDepth = %d, want 1", tc.ChainDepth)
	}
	if tc.Fingerprint == "" {
		t.Error("Fingerprint is empty")
	}
}

func TestVerify_ChainURLPolicy(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	body := []byte(`{}`)
	sig := ca.sign(t, body)

	tests := []struct {
		name     string
		chainURL string
		wantErr  bool
	}{
		{"valid", "https://s3.amazonaws.com/echo.api/cert.pem", false},
		{"valid with explicit port", "https://s3.amazonaws.com:443/echo.api/cert.pem", false},
		{"valid uppercase scheme and host", "HTTPS://S3.AMAZONAWS.COM/echo.api/cert.pem", false},
		{"plain http", "http://s3.amazonaws.com/echo.api/cert.pem", true},
		{"wrong host", "https://s3.example.com/echo.api/cert.pem", true},
		{"wrong port", "https://s3.amazonaws.com:8443/echo.api/cert.pem", true},
		{"outside prefix", "https://s3.amazonaws.com/other/cert.pem", true},
		{"prefix directory itself", "https://s3.amazonaws.com/echo.api/", true},
		{"path traversal", "https://s3.amazonaws.com/echo.api/../evil/cert.pem", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
			_, err := v.Verify(context.Background(), body, sig, tt.chainURL, now, now)
			if tt.wantErr {
				wantCode(t, err, domain.ErrorCodeUntrustedSource)
			} else if err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
		})
	}
}

func TestVerify_SignatureMismatch(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	body := []byte(`{"request":{"type":"LaunchRequest"}}`)

	t.Run("flipped signature byte", func(t *testing.T) {
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		raw, _ := base64.StdEncoding.DecodeString(ca.sign(t, body))
		raw[0] ^= 0x01
		_, err := v.Verify(context.Background(), body, base64.StdEncoding.EncodeToString(raw), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeSignatureMismatch)
	})

	t.Run("not base64", func(t *testing.T) {
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		_, err := v.Verify(context.Background(), body, "!!not-base64!!", testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeSignatureMismatch)
	})

	t.Run("signature over different body", func(t *testing.T) {
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		other := []byte(`{"request":{"type":"IntentRequest"}}`)
		_, err := v.Verify(context.Background(), body, ca.sign(t, other), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeSignatureMismatch)
	})
}

// A re-serialized body that decodes to the same JSON value must still fail
// verification: the signature covers exact bytes, not semantics.
func TestVerify_ReencodedBodyFails(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})

	signed := []byte(`{"request":{"type":"LaunchRequest"}}`)
	reencoded := []byte(`{ "request": { "type": "LaunchRequest" } }`)

	_, err := v.Verify(context.Background(), reencoded, ca.sign(t, signed), testChainURL, now, now)
	wantCode(t, err, domain.ErrorCodeSignatureMismatch)
}

func TestVerify_InvalidCertificate(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)

	t.Run("expired", func(t *testing.T) {
		ca := newTestCA(t, now.Add(-2*time.Hour), now.Add(-time.Hour), []string{testSigningDomain})
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		_, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})

	t.Run("not yet valid", func(t *testing.T) {
		ca := newTestCA(t, now.Add(time.Hour), now.Add(2*time.Hour), []string{testSigningDomain})
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		_, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})

	t.Run("wrong signing domain", func(t *testing.T) {
		ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{"other.example.com"})
		v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
		_, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})

	t.Run("untrusted root", func(t *testing.T) {
		ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
		other := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
		v, err := New(Options{
			Roots:           other.pool(),
			SigningDomain:   testSigningDomain,
			ChainHost:       testChainHost,
			ChainPort:       "443",
			ChainPathPrefix: "/echo.api/",
			Fetcher:         &fakeFetcher{data: ca.pem},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		_, err = v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})

	t.Run("empty chain document", func(t *testing.T) {
		ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
		v := newTestVerifier(t, ca, &fakeFetcher{data: []byte("not pem at all")})
		_, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})
}

func TestVerify_FetchFailure(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	v := newTestVerifier(t, ca, &fakeFetcher{err: errors.New("connection refused")})

	body := []byte(`{}`)
	_, err := v.Verify(context.Background(), body, ca.sign(t, body), testChainURL, now, now)
	wantCode(t, err, domain.ErrorCodeCertificateFetchFailed)
}

// The skew boundary is inclusive: exactly tolerance is accepted, one second
// beyond is rejected, in both directions.
func TestVerify_TimestampBoundary(t *testing.T) {
	now := time.Now()
	tolerance := 150 * time.Second
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	body := []byte(`{}`)
	sig := ca.sign(t, body)

	tests := []struct {
		name    string
		claimed time.Time
		wantErr bool
	}{
		{"exactly at past boundary", now.Add(-tolerance), false},
		{"one second past boundary", now.Add(-tolerance - time.Second), true},
		{"exactly at future boundary", now.Add(tolerance), false},
		{"one second beyond future boundary", now.Add(tolerance + time.Second), true},
		{"zero timestamp", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, ca, &fakeFetcher{data: ca.pem})
			_, err := v.Verify(context.Background(), body, sig, testChainURL, tt.claimed, now)
			if tt.wantErr {
				wantCode(t, err, domain.ErrorCodeTimestampOutOfRange)
			} else if err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
		})
	}
}

// A two-certificate chain that verifies against the trusted root is still
// rejected when it exceeds the configured depth bound.
func TestVerify_ChainDepthBound(t *testing.T) {
	now := time.Now()
	root := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	leaf := root.issueLeaf(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})

	body := []byte(`{}`)
	sig := leaf.sign(t, body)

	newDepthVerifier := func(t *testing.T, depth int) *Verifier {
		t.Helper()
		v, err := New(Options{
			Roots:           root.pool(),
			SigningDomain:   testSigningDomain,
			ChainHost:       testChainHost,
			ChainPort:       "443",
			ChainPathPrefix: "/echo.api/",
			MaxChainDepth:   depth,
			Fetcher:         &fakeFetcher{data: leaf.pem},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return v
	}

	t.Run("within bound", func(t *testing.T) {
		v := newDepthVerifier(t, 2)
		tc, err := v.Verify(context.Background(), body, sig, testChainURL, now, now)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if tc.ChainDepth != 2 {
			t.Errorf("ChainDepth = %d, want 2", tc.ChainDepth)
		}
	})

	t.Run("exceeds bound", func(t *testing.T) {
		v := newDepthVerifier(t, 1)
		_, err := v.Verify(context.Background(), body, sig, testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeInvalidCertificate)
	})
}

// A correctly signed body is rejected when its hash algorithm is not in the
// configured allow-list.
func TestVerify_HashAllowList(t *testing.T) {
	now := time.Now()
	ca := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	body := []byte(`{"request":{"type":"LaunchRequest"}}`)

	newHashVerifier := func(t *testing.T, hashes []crypto.Hash) *Verifier {
		t.Helper()
		v, err := New(Options{
			Roots:           ca.pool(),
			SigningDomain:   testSigningDomain,
			ChainHost:       testChainHost,
			ChainPort:       "443",
			ChainPathPrefix: "/echo.api/",
			Hashes:          hashes,
			Fetcher:         &fakeFetcher{data: ca.pem},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return v
	}

	t.Run("sha1 rejected when only sha256 allowed", func(t *testing.T) {
		v := newHashVerifier(t, []crypto.Hash{crypto.SHA256})
		_, err := v.Verify(context.Background(), body, ca.signWith(t, crypto.SHA1, body), testChainURL, now, now)
		wantCode(t, err, domain.ErrorCodeSignatureMismatch)
	})

	t.Run("sha256 accepted when allowed", func(t *testing.T) {
		v := newHashVerifier(t, []crypto.Hash{crypto.SHA256})
		if _, err := v.Verify(context.Background(), body, ca.signWith(t, crypto.SHA256, body), testChainURL, now, now); err != nil {
			t.Errorf("Verify() error = %v, want nil", err)
		}
	})

	t.Run("sha1 accepted when both allowed", func(t *testing.T) {
		v := newHashVerifier(t, []crypto.Hash{crypto.SHA1, crypto.SHA256})
		if _, err := v.Verify(context.Background(), body, ca.signWith(t, crypto.SHA1, body), testChainURL, now, now); err != nil {
			t.Errorf("Verify() error = %v, want nil", err)
		}
	})
}

// A certificate carrying a non-RSA key cannot satisfy the signature check,
// even when its chain is otherwise trusted.
func TestVerify_NonRSAKeyRejected(t *testing.T) {
	now := time.Now()
	root := newTestCA(t, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa.GenerateKey() error = %v", err)
	}
	der := root.issueDER(t, &leafKey.PublicKey, now.Add(-time.Hour), now.Add(time.Hour), []string{testSigningDomain})
	chain := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), root.pem...)

	v := newTestVerifier(t, root, &fakeFetcher{data: chain})
	body := []byte(`{}`)
	sig := base64.StdEncoding.EncodeToString([]byte("irrelevant"))

	_, err = v.Verify(context.Background(), body, sig, testChainURL, now, now)
	wantCode(t, err, domain.ErrorCodeSignatureMismatch)
}
