// Package tls serves the API over HTTPS with certificates obtained
// through CertMagic using the ACME DNS-01 challenge on Azure DNS.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // empty uses the system assigned managed identity
}

// Validate checks that an enabled TLS configuration is usable.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return errors.New("TLS enabled but no domains specified")
	}
	if c.Email == "" {
		return errors.New("TLS enabled but no email specified")
	}
	if c.DNS.SubscriptionID == "" || c.DNS.ResourceGroupName == "" {
		return errors.New("TLS enabled but Azure DNS subscription or resource group missing")
	}
	return nil
}

// Server is the API listener, plain HTTP or HTTPS depending on Config.
type Server struct {
	config  Config
	handler http.Handler
	logger  *slog.Logger
	magic   *certmagic.Config

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates the API server. With TLS enabled it prepares a
// CertMagic configuration but does not obtain certificates yet.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
	if !cfg.Enabled {
		return s, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	issuer := certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		CA:     ca,
		Email:  cfg.Email,
		Agreed: true,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID,
				},
			},
		},
	})
	magic.Issuers = []certmagic.Issuer{issuer}

	s.magic = magic
	return s, nil
}

// Enabled reports whether the server terminates TLS.
func (s *Server) Enabled() bool {
	return s.config.Enabled
}

// ManageCertificates obtains or renews certificates for the configured
// domains and keeps them renewed in the background.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if s.magic == nil {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains, "staging", s.config.Staging)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates obtained", "domains", s.config.Domains)
	return nil
}

// TLSConfig returns the TLS configuration, nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	if s.magic == nil {
		return nil
	}
	tlsConfig := s.magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)
	return tlsConfig
}

// ListenAndServe blocks serving on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		TLSConfig:         s.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	var err error
	if s.magic == nil {
		s.logger.Info("starting HTTP server", "address", addr)
		err = server.ListenAndServe()
	} else {
		s.logger.Info("starting HTTPS server", "address", addr, "domains", s.config.Domains)
		err = server.ListenAndServeTLS("", "")
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
