package config

// Config is the top-level configuration structure for credvault.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	IdP     IdPConfig     `yaml:"idp"`
	Azure   AzureConfig   `yaml:"azure"`
	Scopes  ScopesConfig  `yaml:"scopes"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Listener port (default: 8090)
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error (default: info)
}

// IdPConfig configures the identity provider the authorization flow runs
// against.
type IdPConfig struct {
	AuthorizeURL string `yaml:"authorizeUrl"`
	TokenURL     string `yaml:"tokenUrl"`
	ClientID     string `yaml:"clientId"`

	// ClientSecret may also come from the CREDVAULT_CLIENT_SECRET
	// environment variable, which takes precedence over this field.
	ClientSecret string `yaml:"clientSecret,omitempty"`

	// RedirectURI must match the registered callback for the client.
	RedirectURI string `yaml:"redirectUri"`
}

// AzureConfig carries the bootstrap values for vault provisioning and the
// service credential used to reach Azure.
type AzureConfig struct {
	SubscriptionID    string `yaml:"subscriptionId"`
	ResourceGroup     string `yaml:"resourceGroup"`
	Location          string `yaml:"location"`
	DirectoryTenantID string `yaml:"directoryTenantId"`
	PrincipalObjectID string `yaml:"principalObjectId"`

	Environment string `yaml:"environment,omitempty"` // Vault name segment (default: dev)
	NamePrefix  string `yaml:"namePrefix,omitempty"`  // Vault name prefix (default: cv)
	NameSuffix  string `yaml:"nameSuffix,omitempty"`  // Vault name suffix (default: kv)

	// Credential selects how the process authenticates to Azure. When the
	// client-secret triple is present a client secret credential is built;
	// otherwise the SDK's default credential chain is used.
	Credential AzureCredentialConfig `yaml:"credential,omitempty"`
}

// AzureCredentialConfig is an optional explicit service-principal secret.
type AzureCredentialConfig struct {
	TenantID     string `yaml:"tenantId,omitempty"`
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
}

// UseClientSecret reports whether the explicit service-principal triple is
// fully configured.
func (c AzureCredentialConfig) UseClientSecret() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// ScopesConfig overrides the built-in scope profiles per tier. Empty lists
// keep the defaults.
type ScopesConfig struct {
	ResourceManager []string `yaml:"resourceManager,omitempty"`
	Directory       []string `yaml:"directory,omitempty"`
}

// CacheConfig tunes the in-memory credential cache.
type CacheConfig struct {
	BufferMinutes int `yaml:"bufferMinutes,omitempty"` // Expiry buffer (default: 5)
}
