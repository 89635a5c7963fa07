package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"credvault/pkg/logging"
)

// ClientSecretEnvVar overrides idp.clientSecret so the secret can be kept
// out of the configuration file.
const ClientSecretEnvVar = "CREDVAULT_CLIENT_SECRET"

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Azure: AzureConfig{
			Environment: "dev",
			NamePrefix:  "cv",
			NameSuffix:  "kv",
		},
		Cache: CacheConfig{
			BufferMinutes: 5,
		},
	}
}

// Load reads the configuration file, layering it over the defaults. A
// missing file is not an error; the defaults are returned as-is. The
// configuration is loaded exactly once at startup — nothing re-reads it at
// request time.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No configuration file at %s, using defaults", path)
			applyEnvOverrides(&config)
			return config, nil
		}
		return Config{}, fmt.Errorf("reading configuration from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing configuration from %s: %w", path, err)
	}

	applyEnvOverrides(&config)
	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if secret := os.Getenv(ClientSecretEnvVar); secret != "" {
		config.IdP.ClientSecret = secret
	}
}

// Validate checks the fields the authorization flow cannot run without.
// Vault bootstrap values are validated separately by the provisioner so
// their absence surfaces with remediation text at provisioning time.
func Validate(config Config) error {
	var missing []string
	if config.IdP.AuthorizeURL == "" {
		missing = append(missing, "idp.authorizeUrl")
	}
	if config.IdP.TokenURL == "" {
		missing = append(missing, "idp.tokenUrl")
	}
	if config.IdP.ClientID == "" {
		missing = append(missing, "idp.clientId")
	}
	if config.IdP.RedirectURI == "" {
		missing = append(missing, "idp.redirectUri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("configuration incomplete: missing %s", strings.Join(missing, ", "))
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", config.Server.Port)
	}
	return nil
}
