// Package admission validates hosts and registers them in the host
// directory. Hosts reached over TLS must present a certificate that is
// either signed by a known authority or explicitly trusted by an
// operator; unknown certificates are handed back for confirmation.
package admission

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// TrustStore persists certificates accepted by an operator.
type TrustStore interface {
	GetTrustedCertificate(ctx context.Context, fingerprint string) (*models.TrustedCertificate, error)
	SaveTrustedCertificate(ctx context.Context, cert *models.TrustedCertificate) error
}

// HostStore is the part of the host directory admission writes to.
type HostStore interface {
	GetHost(ctx context.Context, id string) (*models.Host, error)
	SaveHost(ctx context.Context, host *models.Host) error
}

// Config controls how hosts are checked before registration.
type Config struct {
	// VerifyConnection enables the certificate check and the daemon ping.
	VerifyConnection bool
	ConnectTimeout   time.Duration
	// CAFile adds authorities to the system pool.
	CAFile string
}

var _ cluster.HostAdmission = (*Service)(nil)

// Service implements cluster.HostAdmission.
type Service struct {
	hosts HostStore
	trust TrustStore
	cfg   Config
	log   *slog.Logger
}

// New creates an admission service.
func New(hosts HostStore, trust TrustStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		hosts: hosts,
		trust: trust,
		cfg:   cfg,
		log:   logger.With("component", "admission"),
	}
}

// Admit validates the host, checks its certificate and connectivity when
// configured to, and stores it with power state ON.
func (s *Service) Admit(ctx context.Context, req cluster.AdmissionRequest) cluster.AdmissionResult {
	if req.Host == nil {
		return cluster.AdmissionFailure(cluster.NewValidationError(cluster.CodeInvalidHost, "host description is required"))
	}
	if req.Host.Address == "" {
		return cluster.AdmissionFailure(cluster.NewValidationError(cluster.CodeInvalidHost, "host address is required"))
	}
	endpoint, err := parseAddress(req.Host.Address)
	if err != nil {
		return cluster.AdmissionFailure(cluster.NewValidationError(cluster.CodeInvalidHost, "invalid host address %q", req.Host.Address))
	}

	var existing *models.Host
	if req.Host.ID != "" {
		existing, err = s.hosts.GetHost(ctx, req.Host.ID)
		switch {
		case err == nil && !req.Replace:
			return cluster.AdmissionFailure(cluster.NewValidationError(cluster.CodeInvalidHost, "host %s is already registered", req.Host.ID))
		case err != nil && !errors.Is(err, cluster.ErrNotFound):
			return cluster.AdmissionFailure(fmt.Errorf("failed to look up host %s: %w", req.Host.ID, err))
		case err != nil:
			existing = nil
		}
	}

	host := s.merge(existing, req)

	adapter, _ := host.Property(models.PropAdapterType)
	if !slices.Contains(models.AdapterTypes, adapter) {
		return cluster.AdmissionFailure(cluster.NewValidationError(cluster.CodeInvalidHost,
			"host property %s must be one of %v", models.PropAdapterType, models.AdapterTypes))
	}

	if s.cfg.VerifyConnection {
		var tlsCfg *tls.Config
		if endpoint.Scheme == "https" {
			var challenge *models.CertificateChallenge
			tlsCfg, challenge, err = s.checkCertificate(ctx, endpoint, req.AcceptCertificate)
			if err != nil {
				return cluster.AdmissionFailure(err)
			}
			if challenge != nil {
				s.log.Info("host presented an untrusted certificate", "address", host.Address, "fingerprint", challenge.Fingerprint)
				return cluster.NeedsTrustConfirmation(challenge)
			}
		}
		if err := s.ping(ctx, endpoint, tlsCfg); err != nil {
			return cluster.AdmissionFailure(fmt.Errorf("host %s is not reachable: %w", host.Address, err))
		}
	}

	if host.ID == "" {
		host.ID = models.GenerateID("host")
	}
	host.Type = "Host"
	host.PowerState = models.PowerStateOn
	if existing != nil {
		host.CreatedAt = existing.CreatedAt
	}
	if err := s.hosts.SaveHost(ctx, host); err != nil {
		return cluster.AdmissionFailure(fmt.Errorf("failed to store host %s: %w", host.ID, err))
	}

	s.log.Debug("host admitted", "host", host.ID, "address", host.Address, "zone", host.ZoneID)
	return cluster.Admitted(host.Clone())
}

// merge layers the stored record's properties, the request host's
// properties and the explicit property overrides, in that order.
func (s *Service) merge(existing *models.Host, req cluster.AdmissionRequest) *models.Host {
	host := req.Host.Clone()
	props := make(map[string]string)
	if existing != nil {
		for k, v := range existing.CustomProperties {
			props[k] = v
		}
	}
	for k, v := range req.Host.CustomProperties {
		props[k] = v
	}
	for k, v := range req.Properties {
		if v == nil {
			delete(props, k)
			continue
		}
		props[k] = *v
	}
	host.CustomProperties = props
	return host
}

func parseAddress(address string) (*url.URL, error) {
	raw := address
	if !hasScheme(raw) {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", address)
	}
	switch u.Scheme {
	case "http", "https", "tcp":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Scheme == "tcp" {
		u.Scheme = "https"
	}
	if u.Port() == "" {
		port := "2376"
		if u.Scheme == "http" {
			port = "2375"
		}
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, nil
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/'
		}
		if s[i] == '/' {
			return false
		}
	}
	return false
}

// checkCertificate fetches the host's certificate chain and decides
// whether it is trusted. It returns the TLS config to talk to the host,
// or a challenge when the operator has to confirm the certificate first.
func (s *Service) checkCertificate(ctx context.Context, endpoint *url.URL, accept bool) (*tls.Config, *models.CertificateChallenge, error) {
	chain, err := s.fetchChain(ctx, endpoint.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch certificate from %s: %w", endpoint.Host, err)
	}
	leaf := chain[0]
	fingerprint := Fingerprint(leaf)

	tlsCfg, err := tlsconfig.Client(tlsconfig.Options{CAFile: s.cfg.CAFile})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load CA file: %w", err)
	}
	roots := tlsCfg.RootCAs
	if roots == nil {
		if roots, err = x509.SystemCertPool(); err != nil {
			roots = x509.NewCertPool()
		}
	}
	tlsCfg.ServerName = endpoint.Hostname()

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       endpoint.Hostname(),
	}); err == nil {
		tlsCfg.RootCAs = roots
		return tlsCfg, nil, nil
	}

	_, err = s.trust.GetTrustedCertificate(ctx, fingerprint)
	switch {
	case err == nil:
	case !errors.Is(err, cluster.ErrNotFound):
		return nil, nil, fmt.Errorf("failed to read trust store: %w", err)
	case !accept:
		return nil, challengeFor(leaf), nil
	default:
		cert := &models.TrustedCertificate{
			Type:        "TrustedCertificate",
			ID:          models.TrustedCertificateID(fingerprint),
			Fingerprint: fingerprint,
			Certificate: encodePEM(leaf),
			CommonName:  leaf.Subject.CommonName,
			Issuer:      leaf.Issuer.CommonName,
			NotAfter:    leaf.NotAfter,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.trust.SaveTrustedCertificate(ctx, cert); err != nil {
			return nil, nil, fmt.Errorf("failed to store trusted certificate: %w", err)
		}
		s.log.Info("certificate trusted", "fingerprint", fingerprint, "subject", leaf.Subject.CommonName)
	}

	pinned := roots.Clone()
	pinned.AddCert(leaf)
	tlsCfg.RootCAs = pinned
	return tlsCfg, nil, nil
}

func (s *Service) fetchChain(ctx context.Context, hostport string) ([]*x509.Certificate, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.cfg.ConnectTimeout},
		Config: &tls.Config{
			// The chain is inspected below, not trusted.
			InsecureSkipVerify: true, //nolint:gosec
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	chain := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, errors.New("no certificate presented")
	}
	return chain, nil
}

// ping checks that a container daemon answers on the endpoint.
func (s *Service) ping(ctx context.Context, endpoint *url.URL, tlsCfg *tls.Config) error {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: s.cfg.ConnectTimeout}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: s.cfg.ConnectTimeout,
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+endpoint.Host),
		client.WithHTTPClient(&http.Client{Transport: transport, Timeout: s.cfg.ConnectTimeout}),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	_, err = cli.Ping(ctx)
	return err
}

// Fingerprint is the hex SHA-256 of the DER certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func challengeFor(cert *x509.Certificate) *models.CertificateChallenge {
	return &models.CertificateChallenge{
		Certificate: encodePEM(cert),
		Fingerprint: Fingerprint(cert),
		CommonName:  cert.Subject.CommonName,
		Issuer:      cert.Issuer.CommonName,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}
}

func encodePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
}
