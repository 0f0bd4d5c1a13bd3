// Package security declares the TLS settings shared by every transport in
// the pipeline: the MQTT broker link, the WebSocket and metrics listeners,
// and the NATS relay. pkg/tlsutil turns these into *tls.Config values.
package security

// Config is the root security block handed to component deps.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig pairs the listener-side and dialer-side settings.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ServerMTLSConfig asks a listener to verify client certificates.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // false accepts clients without a cert
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`  // empty accepts any verified CN
}

// ServerTLSConfig configures a TLS listener (wss:// fan-out, HTTPS metrics).
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies the certificate a dialer presents when the far
// side demands mutual auth.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// ClientTLSConfig configures a TLS dialer (NATS relay). The system CA
// bundle is always trusted; CAFiles add private CAs on top of it.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // dev and test only
	MinVersion         string   `json:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}

// BrokerTLSConfig holds the transport security surface for the MQTT broker
// connection. Unlike ClientTLSConfig it carries a single CA file and an
// optional server name override, matching what broker deployments hand out.
type BrokerTLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"` // dev and test only
	ServerName         string `json:"serverName,omitempty"`
	MinVersion         string `json:"minVersion,omitempty"` // "1.2" or "1.3"
}
