package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

// Manager resolves the server certificate at handshake time. Resolution order
// is autocert (when enabled), then the configured cert/key pair, then a
// generated development certificate.
type Manager struct {
	server   config.ServerConfig
	autoCert *autocert.Manager
	devCerts *devCertStore
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		server:   cfg.Server,
		devCerts: newDevCertStore(cfg.Server.AutoCertDir),
	}

	if cfg.Server.EnableTLS && cfg.Server.AutoCert {
		m.enableAutocert()
	}

	return m
}

func (m *Manager) enableAutocert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert cache directory",
			zap.String("dir", m.server.AutoCertDir),
			zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("Autocert enabled",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile); err == nil {
			return &cert, nil
		}
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.server.Domain != "" {
		hosts = append([]string{m.server.Domain}, hosts...)
	}

	cert, err := m.devCerts.load(hosts)
	if err != nil {
		return nil, fmt.Errorf("no usable server certificate: %w", err)
	}
	return cert, nil
}

func (m *Manager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager exposes the autocert manager for the HTTP-01 challenge
// handler, nil when autocert is disabled.
func (m *Manager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
