// Package tlsutil builds *tls.Config values from the declarative
// settings in pkg/security.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/security"
)

// LoadServerTLSConfig builds the listener-side tls.Config for HTTPS and
// wss:// endpoints. A disabled config yields a nil tls.Config.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	return tlsConfig, nil
}

// LoadClientTLSConfig builds the dialer-side tls.Config. The system CA
// bundle is always trusted; CAFiles add private CAs on top of it.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	rootCAs, err := systemPoolOrEmpty()
	if err != nil {
		return nil, err
	}

	for _, caFile := range cfg.CAFiles {
		if err := appendCA(rootCAs, caFile, "LoadClientTLSConfig"); err != nil {
			return nil, err
		}
	}

	tlsConfig.RootCAs = rootCAs

	return tlsConfig, nil
}

// LoadBrokerTLSConfig creates a tls.Config for the MQTT broker connection.
// Returns nil when transport security is disabled.
func LoadBrokerTLSConfig(cfg security.BrokerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	rootCAs, err := systemPoolOrEmpty()
	if err != nil {
		return nil, err
	}
	if cfg.CAFile != "" {
		if err := appendCA(rootCAs, cfg.CAFile, "LoadBrokerTLSConfig"); err != nil {
			return nil, err
		}
	}
	tlsConfig.RootCAs = rootCAs

	// Client certificate is optional; some brokers authenticate by
	// username/password over TLS without mutual auth.
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadBrokerTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// LoadServerTLSConfigWithMTLS extends LoadServerTLSConfig with
// client-certificate checks. The mTLS settings only take effect when the
// base server TLS is enabled.
func LoadServerTLSConfigWithMTLS(cfg security.ServerTLSConfig, mtlsCfg security.ServerMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadServerTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	if tlsConfig == nil || !mtlsCfg.Enabled {
		return tlsConfig, nil
	}

	if err := applyMTLSConfig(tlsConfig, mtlsCfg); err != nil {
		return nil, err
	}

	return tlsConfig, nil
}

// applyMTLSConfig wires client-certificate verification into an existing
// server config.
func applyMTLSConfig(tlsConfig *tls.Config, mtlsCfg security.ServerMTLSConfig) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range mtlsCfg.ClientCAFiles {
		if err := appendCA(clientCAs, caFile, "applyMTLSConfig"); err != nil {
			return err
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if mtlsCfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	// Pin accepted client certificates to specific common names.
	if len(mtlsCfg.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, mtlsCfg.AllowedClientCNs)
		}
	}

	return nil
}

// verifyAllowedClientCN accepts the handshake only when the leaf
// certificate's common name matches one of the configured names.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}

	return fmt.Errorf("client certificate CN '%s' not in allowed list",
		leafCert.Subject.CommonName)
}

// LoadClientTLSConfigWithMTLS extends LoadClientTLSConfig with a client
// certificate for servers that demand mutual auth.
func LoadClientTLSConfigWithMTLS(cfg security.ClientTLSConfig, mtlsCfg security.ClientMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	if !mtlsCfg.Enabled {
		return tlsConfig, nil
	}

	clientCert, err := tls.LoadX509KeyPair(mtlsCfg.CertFile, mtlsCfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfigWithMTLS",
			"load client certificate")
	}

	tlsConfig.Certificates = []tls.Certificate{clientCert}

	return tlsConfig, nil
}

// systemPoolOrEmpty returns the system CA pool, or an empty pool when the
// platform cannot supply one.
func systemPoolOrEmpty() (*x509.CertPool, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		return x509.NewCertPool(), nil
	}
	return rootCAs, nil
}

// appendCA reads a PEM file and appends its certificates to the pool.
func appendCA(pool *x509.CertPool, caFile, method string) error {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return errors.WrapFatal(err, "tlsutil", method, fmt.Sprintf("read CA file %s", caFile))
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return errors.WrapFatal(
			fmt.Errorf("invalid PEM data"),
			"tlsutil", method,
			fmt.Sprintf("parse CA certificate from %s", caFile),
		)
	}
	return nil
}

// parseTLSVersion maps the config string to a crypto/tls constant.
// Anything unrecognized pins TLS 1.2 as the floor.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
