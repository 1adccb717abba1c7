package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment does
// not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvAdminUID, EnvAdminPass, EnvURL, EnvCertPath, EnvAdminToken,
		EnvEndpoint, EnvCert, EnvBinary, EnvContract, EnvTimeout,
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", cfg.Endpoint, DefaultEndpoint)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("len(Targets) = %d, want 1", len(cfg.Targets))
	}
	got := cfg.Targets[0]
	if got.Binary != "./eccs" || got.Contract != "v3" || got.Name != "eccs-v3" {
		t.Errorf("default target = %+v", got)
	}
	if cfg.Debug.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.Debug.RetentionDays)
	}
	if cfg.CertSet {
		t.Error("CertSet = true with ECCS_CRT unset")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
endpoint: server:9443
timeout: 5s
cert_path: /etc/eccs/ca.crt
targets:
  - name: legacy
    binary: /opt/eccs-1.0
    contract: v1
  - binary: /opt/eccs-4.0
    contract: v4
server:
  image: encryptonize/server:latest
  port: 9443
  env:
    ECTNZ_LOG: debug
  ready_timeout: 2m
debug:
  retention_days: 3
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != "server:9443" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", cfg.Timeout)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(cfg.Targets))
	}
	if cfg.Targets[0].Name != "legacy" {
		t.Errorf("Targets[0].Name = %q, want legacy", cfg.Targets[0].Name)
	}
	if cfg.Targets[1].Name != "eccs-4.0-v4" {
		t.Errorf("Targets[1].Name = %q, want eccs-4.0-v4", cfg.Targets[1].Name)
	}
	if cfg.Server.Image != "encryptonize/server:latest" || cfg.Server.Port != 9443 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Env["ECTNZ_LOG"] != "debug" {
		t.Errorf("Server.Env = %v", cfg.Server.Env)
	}
	if cfg.Server.ReadyTimeout != 2*time.Minute {
		t.Errorf("ReadyTimeout = %s, want 2m", cfg.Server.ReadyTimeout)
	}
	if cfg.Debug.RetentionDays != 3 {
		t.Errorf("RetentionDays = %d, want 3", cfg.Debug.RetentionDays)
	}
	ep := cfg.EndpointFor(cfg.Endpoint)
	if ep.CertPath != "/etc/eccs/ca.crt" {
		t.Errorf("CertPath = %q", ep.CertPath)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "endpoint: from-file:9000\n")

	t.Setenv(EnvEndpoint, "from-eccs-endpoint:9000")
	t.Setenv(EnvURL, "from-url:9000")
	t.Setenv(EnvAdminUID, "admin")
	t.Setenv(EnvAdminPass, "op://vault/eccs/password")
	t.Setenv(EnvAdminToken, "tok")
	t.Setenv(EnvCertPath, "/tmp/ca.crt")
	t.Setenv(EnvBinary, "/usr/local/bin/eccs")
	t.Setenv(EnvContract, "v2")
	t.Setenv(EnvTimeout, "90s")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != "from-url:9000" {
		t.Errorf("Endpoint = %q, want E2E_TEST_URL to win", cfg.Endpoint)
	}
	if cfg.Admin.UserID != "admin" || cfg.Admin.Password != "op://vault/eccs/password" || cfg.Admin.Token != "tok" {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if cfg.CertPath != "/tmp/ca.crt" {
		t.Errorf("CertPath = %q", cfg.CertPath)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %s, want 90s", cfg.Timeout)
	}
	if got := cfg.Targets[0]; got.Binary != "/usr/local/bin/eccs" || got.Contract != "v2" {
		t.Errorf("target = %+v", got)
	}
}

func TestLoad_MalformedTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvTimeout, "90")

	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for a timeout without a unit")
	}
	if !strings.Contains(err.Error(), EnvTimeout) {
		t.Errorf("error = %v, want it to name %s", err, EnvTimeout)
	}
}

func TestLoad_EmptyCertIsPreserved(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvCert, "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.CertSet || cfg.Cert != "" {
		t.Errorf("Cert = %q, CertSet = %v; want empty and set", cfg.Cert, cfg.CertSet)
	}
	ep := cfg.EndpointFor("x:1")
	if !ep.CertSet {
		t.Error("EndpointFor dropped CertSet")
	}
}

func TestLoad_UnknownContract(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvContract, "v7")

	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for unknown contract")
	}
	if !strings.Contains(err.Error(), `unknown eccs contract "v7"`) {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_DuplicateTarget(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "targets:\n  - name: a\n  - name: a\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for duplicate target names")
	}
}

func TestLoad_Malformed(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "targets: [\n")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDir(t *testing.T) {
	t.Setenv(EnvDir, "/tmp/custom")
	if got := Dir(); got != "/tmp/custom" {
		t.Errorf("Dir() = %q, want /tmp/custom", got)
	}

	t.Setenv(EnvDir, "")
	t.Setenv("HOME", "/home/tester")
	if got := Dir(); got != "/home/tester/.eccs-e2e" {
		t.Errorf("Dir() = %q, want /home/tester/.eccs-e2e", got)
	}
}

func TestAdminRequire(t *testing.T) {
	tests := []struct {
		name      string
		admin     Admin
		usesToken bool
		wantVar   string
	}{
		{"complete", Admin{UserID: "u", Password: "p"}, false, ""},
		{"token only", Admin{Token: "t"}, true, ""},
		{"token ignored by password contract", Admin{Token: "t"}, false, EnvAdminUID},
		{"missing password", Admin{UserID: "u"}, true, EnvAdminPass},
		{"missing everything", Admin{}, false, EnvAdminUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.admin.Require(tt.usesToken)
			if tt.wantVar == "" {
				if err != nil {
					t.Errorf("Require = %v, want nil", err)
				}
				return
			}
			var me *MissingEnvError
			if !errors.As(err, &me) {
				t.Fatalf("Require = %v, want *MissingEnvError", err)
			}
			if me.Name != tt.wantVar {
				t.Errorf("Name = %q, want %q", me.Name, tt.wantVar)
			}
			if me.Error() != tt.wantVar+" must be set" {
				t.Errorf("Error() = %q", me.Error())
			}
		})
	}
}
