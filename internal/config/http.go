package config

import (
	"crypto/tls"
	"fmt"
)

type HTTPOptions struct {
	MinTLSVersion string `yaml:"mintls"`
	Insecure      bool   `yaml:"insecure,omitempty"`
}

var tlsVersions = []uint16{
	tls.VersionTLS10,
	tls.VersionTLS11,
	tls.VersionTLS12,
	tls.VersionTLS13,
}

// TLSVersion maps a name as printed by tls.VersionName ("TLS 1.2") to its
// protocol constant.
func TLSVersion(name string) (uint16, error) {
	for _, v := range tlsVersions {
		if tls.VersionName(v) == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("config.TLSVersion: invalid TLS version %q", name)
}

// TLSConfig builds the client TLS configuration for backend requests.
func (o *HTTPOptions) TLSConfig() (*tls.Config, error) {
	if o == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o.MinTLSVersion != "" {
		v, err := TLSVersion(o.MinTLSVersion)
		if err != nil {
			return nil, err
		}
		cfg.MinVersion = v
	}
	cfg.InsecureSkipVerify = o.Insecure
	return cfg, nil
}
