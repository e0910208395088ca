package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "mammut" {
		t.Errorf("Expected Name 'mammut', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  sshPort: 23232
  httpPort: 9999
  sslDomain: example.com
  withAp: true
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.SshPort != 23232 {
		t.Errorf("Expected SshPort 23232, got %d", config.Conf.SshPort)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  sshPort: 23232
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("MAMMUT_HOST", "192.168.1.1")
	os.Setenv("MAMMUT_SSHPORT", "2222")
	os.Setenv("MAMMUT_HTTPPORT", "8080")
	os.Setenv("MAMMUT_SSLDOMAIN", "test.example.com")
	os.Setenv("MAMMUT_WITH_AP", "true")

	defer func() {
		os.Unsetenv("MAMMUT_HOST")
		os.Unsetenv("MAMMUT_SSHPORT")
		os.Unsetenv("MAMMUT_HTTPPORT")
		os.Unsetenv("MAMMUT_SSLDOMAIN")
		os.Unsetenv("MAMMUT_WITH_AP")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// Environment variables should override YAML values
	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.SshPort != 2222 {
		t.Errorf("Expected SshPort 2222 from env, got %d", config.Conf.SshPort)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}

	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true from env")
	}
}
