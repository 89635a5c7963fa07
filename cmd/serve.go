package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/spf13/cobra"

	"credvault/internal/config"
	"credvault/internal/credential"
	"credvault/internal/flow"
	"credvault/internal/idp"
	"credvault/internal/scopes"
	"credvault/internal/vault"
	"credvault/pkg/logging"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the credvault authorization and provisioning server",
	Long: `Starts the HTTP server that initiates authorization flows, receives the
identity provider's callback, and provisions per-tenant secret vaults in
the background.

Configuration is read once from the file given with --config (default
config.yaml in the working directory). The identity provider client secret
can be supplied via the CREDVAULT_CLIENT_SECRET environment variable
instead of the file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	logging.Initialize(logging.ParseLevel(cfg.Logging.Level), os.Stderr)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	azureCred, err := buildAzureCredential(cfg.Azure)
	if err != nil {
		return fmt.Errorf("building Azure credential: %w", err)
	}

	bootstrap := vault.Bootstrap{
		PrincipalObjectID: cfg.Azure.PrincipalObjectID,
		DirectoryTenantID: cfg.Azure.DirectoryTenantID,
		SubscriptionID:    cfg.Azure.SubscriptionID,
		ResourceGroup:     cfg.Azure.ResourceGroup,
		Location:          cfg.Azure.Location,
		Environment:       cfg.Azure.Environment,
		NamePrefix:        cfg.Azure.NamePrefix,
		NameSuffix:        cfg.Azure.NameSuffix,
	}
	azureClients, err := vault.NewAzureClients(azureCred, bootstrap)
	if err != nil {
		return fmt.Errorf("building vault clients: %w", err)
	}

	provisioner := vault.NewProvisioner(azureClients, azureClients, bootstrap)
	store := vault.NewStore(azureClients, provisioner)
	cache := credential.NewCache(time.Duration(cfg.Cache.BufferMinutes)*time.Minute, nil)
	defer cache.Stop()

	idpClient := idp.NewClient(idp.Options{
		ClientID:     cfg.IdP.ClientID,
		ClientSecret: cfg.IdP.ClientSecret,
		AuthorizeURL: cfg.IdP.AuthorizeURL,
		TokenURL:     cfg.IdP.TokenURL,
		RedirectURI:  cfg.IdP.RedirectURI,
	})
	resolver := scopes.NewResolver(cfg.Scopes.ResourceManager, cfg.Scopes.Directory)

	engine := credential.NewRefreshEngine(idpClient, resolver, store, cache,
		time.Duration(cfg.Cache.BufferMinutes)*time.Minute, nil)
	source := credential.NewSource(store, cache, engine, nil)

	coordinator := flow.NewCoordinator(idpClient, resolver, provisioner, store, cache, cfg.IdP.RedirectURI, nil)
	defer coordinator.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           flow.NewHandler(coordinator, source),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "Listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info("Server", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildAzureCredential picks the credential for vault access: an explicit
// service-principal secret when configured, the SDK's default chain
// (environment, workload identity, managed identity, CLI) otherwise.
func buildAzureCredential(cfg config.AzureConfig) (azcore.TokenCredential, error) {
	if cfg.Credential.UseClientSecret() {
		return azidentity.NewClientSecretCredential(
			cfg.Credential.TenantID, cfg.Credential.ClientID, cfg.Credential.ClientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "Path to the configuration file")
}
