package vault

import (
	"context"
	"errors"

	"credvault/pkg/logging"
)

// SecretsClient is the secret surface of a per-tenant vault. Implemented by
// the Azure adapter; faked in tests. Errors are classified into the tagged
// sentinels of this package before they reach callers.
type SecretsClient interface {
	GetSecret(ctx context.Context, vaultName, name string) (string, error)
	SetSecret(ctx context.Context, vaultName, name, value string) error
	// DeleteSecret issues a soft delete.
	DeleteSecret(ctx context.Context, vaultName, name string) error
	// ProbeSecrets lists the first page of secrets and discards it; the
	// cheapest way to establish that the vault exists and is readable.
	ProbeSecrets(ctx context.Context, vaultName string) error
}

// VaultCreator creates tenant vaults.
type VaultCreator interface {
	CreateVault(ctx context.Context, name string, tags map[string]string) error
}

// Bootstrap holds the deployment-level values provisioning needs. These come
// from configuration, never from the flow itself.
type Bootstrap struct {
	// PrincipalObjectID is the coordinating application's directory object
	// id, granted get/list/set/delete on secrets in every vault it creates.
	PrincipalObjectID string

	// DirectoryTenantID is the deployment's own directory tenant (not a
	// customer tenant); vault access policies are scoped to it.
	DirectoryTenantID string

	SubscriptionID string
	ResourceGroup  string
	Location       string

	// Environment distinguishes deployments sharing a subscription and is
	// part of every vault name.
	Environment string

	NamePrefix string
	NameSuffix string
}

// missing returns the names of required bootstrap values that are unset.
func (b Bootstrap) missing() []string {
	var out []string
	if b.PrincipalObjectID == "" {
		out = append(out, "principalObjectId")
	}
	if b.SubscriptionID == "" {
		out = append(out, "subscriptionId")
	}
	if b.ResourceGroup == "" {
		out = append(out, "resourceGroup")
	}
	if b.Location == "" {
		out = append(out, "location")
	}
	return out
}

// ProgressFunc receives provisioning milestones. The percentage tops out at
// 90; the caller claims 100 once its own follow-up work succeeds.
type ProgressFunc func(percentage int, message string)

// Provisioner checks and creates per-tenant secret vaults.
type Provisioner struct {
	secrets SecretsClient
	vaults  VaultCreator
	boot    Bootstrap
}

// NewProvisioner creates a provisioner. Missing bootstrap values are only
// reported when provisioning is actually attempted, so read-only use of an
// already-provisioned deployment keeps working.
func NewProvisioner(secrets SecretsClient, vaults VaultCreator, boot Bootstrap) *Provisioner {
	if boot.NamePrefix == "" {
		boot.NamePrefix = "cv"
	}
	if boot.NameSuffix == "" {
		boot.NameSuffix = "kv"
	}
	if boot.Environment == "" {
		boot.Environment = "dev"
	}
	return &Provisioner{secrets: secrets, vaults: vaults, boot: boot}
}

// Name computes the vault name for a tenant.
func (p *Provisioner) Name(tenantRef string) string {
	return VaultName(p.boot.NamePrefix, p.boot.Environment, tenantRef, p.boot.NameSuffix)
}

// Exists probes whether the tenant's vault exists by listing its first page
// of secrets. Not-found and unreachable-host outcomes mean false; any other
// failure is an error, not a silent false.
func (p *Provisioner) Exists(ctx context.Context, tenantRef string) (bool, error) {
	name := p.Name(tenantRef)
	err := p.secrets.ProbeSecrets(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnreachable) {
		logging.Debug("Vault", "Vault %s does not exist: %v", name, err)
		return false, nil
	}
	return false, err
}

// EnsureExists provisions the tenant's vault if it is absent. Idempotent.
func (p *Provisioner) EnsureExists(ctx context.Context, tenantRef string) error {
	exists, err := p.Exists(ctx, tenantRef)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.Provision(ctx, tenantRef, nil)
}

// Provision creates the tenant's vault, reporting milestones through
// onProgress (which may be nil). Creation races are tolerated: a conflict
// with a vault that now exists is success.
func (p *Provisioner) Provision(ctx context.Context, tenantRef string, onProgress ProgressFunc) error {
	report := func(pct int, msg string) {
		if onProgress != nil {
			onProgress(pct, msg)
		}
	}

	report(10, "Reading provisioning configuration")
	if missing := p.boot.missing(); len(missing) > 0 {
		return &ConfigurationMissingError{Missing: missing}
	}

	report(25, "Validating permissions")
	name := p.Name(tenantRef)

	report(60, "Creating secret vault")
	tags := map[string]string{
		"tenant":  tenantRef,
		"purpose": "credential-vault",
	}
	if err := p.vaults.CreateVault(ctx, name, tags); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			logging.Debug("Vault", "Vault %s already exists, treating create as success", name)
		} else {
			return err
		}
	}

	report(90, "Finalizing vault setup")
	logging.Info("Vault", "Provisioned vault %s for tenant=%s", name, logging.TruncateSecret(tenantRef))
	return nil
}
