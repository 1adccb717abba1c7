package config

import (
	"fmt"
	"os"
	"time"
)

// Environment variables read by eccs-e2e.
const (
	EnvAdminUID   = "E2E_TEST_UID"
	EnvAdminPass  = "E2E_TEST_PASS"
	EnvURL        = "E2E_TEST_URL"
	EnvCertPath   = "E2E_TEST_CERT"
	EnvAdminToken = "ECCS_TEST_ADMIN_AT"
	EnvEndpoint   = "ECCS_ENDPOINT"
	EnvCert       = "ECCS_CRT"
	EnvBinary     = "ECCS_BIN"
	EnvContract   = "ECCS_CONTRACT"
	EnvTimeout    = "ECCS_TIMEOUT"
	EnvDir        = "ECCS_E2E_DIR"
)

// MissingEnvError reports a required environment variable that is unset.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("%s must be set", e.Name)
}

func applyEnv(cfg *Config) error {
	// E2E_TEST_URL wins over ECCS_ENDPOINT.
	if ep := os.Getenv(EnvEndpoint); ep != "" {
		cfg.Endpoint = ep
	}
	if ep := os.Getenv(EnvURL); ep != "" {
		cfg.Endpoint = ep
	}
	if v, ok := os.LookupEnv(EnvCert); ok {
		cfg.Cert, cfg.CertSet = v, true
	}
	if v := os.Getenv(EnvCertPath); v != "" {
		cfg.CertPath = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}

	cfg.Admin = Admin{
		UserID:   os.Getenv(EnvAdminUID),
		Password: os.Getenv(EnvAdminPass),
		Token:    os.Getenv(EnvAdminToken),
	}
	return nil
}

func defaultTarget() Target {
	t := Target{Binary: DefaultBinary, Contract: DefaultContract}
	if v := os.Getenv(EnvBinary); v != "" {
		t.Binary = v
	}
	if v := os.Getenv(EnvContract); v != "" {
		t.Contract = v
	}
	return t
}

// Require checks that the admin can authenticate: with a token when the
// contract accepts one, otherwise with a user ID and password.
func (a Admin) Require(usesToken bool) error {
	if usesToken && a.Token != "" {
		return nil
	}
	if a.UserID == "" {
		return &MissingEnvError{Name: EnvAdminUID}
	}
	if a.Password == "" {
		return &MissingEnvError{Name: EnvAdminPass}
	}
	return nil
}
