package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
keystore:
  url: http://localhost:8090
inference:
  api_key: sk-test
`)

	cfg, err := Load(Options{ConfigFile: path, EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Server.ListenAddr)
	require.Equal(t, "shouban", cfg.Keystore.Collection)
	require.Equal(t, 10*time.Second, cfg.Keystore.Timeout)
	require.Equal(t, "https://openrouter.ai/api/v1", cfg.Inference.BaseURL)
	require.Equal(t, "google/gemini-2.5-flash-image-preview:free", cfg.Inference.Model)
	require.Equal(t, 60*time.Second, cfg.Inference.Timeout)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
keystore:
  url: http://localhost:8090
inference:
  api_key: sk-test
`)
	t.Setenv("IMAGEGATE_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("IMAGEGATE_INFERENCE_TIMEOUT", "30s")

	cfg, err := Load(Options{ConfigFile: path, EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.Inference.Timeout)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := &Config{
		Keystore:  KeystoreConfig{URL: "http://localhost:8090", Timeout: time.Second},
		Inference: InferenceConfig{Model: "m", Timeout: time.Minute},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "IMAGEGATE_INFERENCE_API_KEY")
}

func TestValidateMissingKeystoreURL(t *testing.T) {
	cfg := &Config{
		Keystore:  KeystoreConfig{Timeout: time.Second},
		Inference: InferenceConfig{APIKey: "sk-test", Model: "m", Timeout: time.Minute},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "IMAGEGATE_KEYSTORE_URL")
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := &Config{
		Keystore:  KeystoreConfig{URL: "http://localhost:8090", Timeout: time.Second},
		Inference: InferenceConfig{APIKey: "sk-test", Model: "m"},
	}
	require.Error(t, cfg.Validate())
}
