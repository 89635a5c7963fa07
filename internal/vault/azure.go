package vault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"credvault/pkg/logging"
)

// AzureClients adapts the Azure SDK to the SecretsClient and VaultCreator
// interfaces. Data-plane clients are created lazily per vault and cached,
// since each vault has its own endpoint.
type AzureClients struct {
	credential azcore.TokenCredential
	vaults     *armkeyvault.VaultsClient
	bootstrap  Bootstrap

	mu      sync.Mutex
	secrets map[string]*azsecrets.Client
}

// NewAzureClients builds the SDK-backed adapter. The credential is used for
// both the management plane (vault creation) and the data plane (secrets).
func NewAzureClients(cred azcore.TokenCredential, bootstrap Bootstrap) (*AzureClients, error) {
	vaults, err := armkeyvault.NewVaultsClient(bootstrap.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating vaults client: %w", err)
	}
	return &AzureClients{
		credential: cred,
		vaults:     vaults,
		bootstrap:  bootstrap,
		secrets:    make(map[string]*azsecrets.Client),
	}, nil
}

func (a *AzureClients) secretsClient(vaultName string) (*azsecrets.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if client, ok := a.secrets[vaultName]; ok {
		return client, nil
	}
	client, err := azsecrets.NewClient(fmt.Sprintf("https://%s.vault.azure.net", vaultName), a.credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating secrets client for vault %s: %w", vaultName, err)
	}
	a.secrets[vaultName] = client
	return client, nil
}

// GetSecret reads the current version of a secret.
func (a *AzureClients) GetSecret(ctx context.Context, vaultName, secretName string) (string, error) {
	client, err := a.secretsClient(vaultName)
	if err != nil {
		return "", err
	}
	resp, err := client.GetSecret(ctx, secretName, "", nil)
	if err != nil {
		return "", classify(err)
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

// SetSecret overwrites the secret with a new version.
func (a *AzureClients) SetSecret(ctx context.Context, vaultName, secretName, value string) error {
	client, err := a.secretsClient(vaultName)
	if err != nil {
		return err
	}
	_, err = client.SetSecret(ctx, secretName, azsecrets.SetSecretParameters{Value: to.Ptr(value)}, nil)
	if err != nil {
		return classify(err)
	}
	return nil
}

// DeleteSecret soft-deletes the secret.
func (a *AzureClients) DeleteSecret(ctx context.Context, vaultName, secretName string) error {
	client, err := a.secretsClient(vaultName)
	if err != nil {
		return err
	}
	if _, err := client.DeleteSecret(ctx, secretName, nil); err != nil {
		return classify(err)
	}
	return nil
}

// ProbeSecrets lists a single page of secrets to check that the vault
// exists and is reachable with the current credential.
func (a *AzureClients) ProbeSecrets(ctx context.Context, vaultName string) error {
	client, err := a.secretsClient(vaultName)
	if err != nil {
		return err
	}
	pager := client.NewListSecretPropertiesPager(nil)
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return classify(err)
		}
	}
	return nil
}

// CreateVault issues the management-plane create and waits for completion.
// The vault is created with public network access restricted and an access
// policy granting the service principal secret permissions.
func (a *AzureClients) CreateVault(ctx context.Context, vaultName string, tags map[string]string) error {
	sdkTags := make(map[string]*string, len(tags))
	for k, v := range tags {
		sdkTags[k] = to.Ptr(v)
	}

	params := armkeyvault.VaultCreateOrUpdateParameters{
		Location: to.Ptr(a.bootstrap.Location),
		Tags:     sdkTags,
		Properties: &armkeyvault.VaultProperties{
			TenantID: to.Ptr(a.bootstrap.DirectoryTenantID),
			SKU: &armkeyvault.SKU{
				Family: to.Ptr(armkeyvault.SKUFamilyA),
				Name:   to.Ptr(armkeyvault.SKUNameStandard),
			},
			NetworkACLs: &armkeyvault.NetworkRuleSet{
				DefaultAction: to.Ptr(armkeyvault.NetworkRuleActionDeny),
				Bypass:        to.Ptr(armkeyvault.NetworkRuleBypassOptionsAzureServices),
			},
			AccessPolicies: []*armkeyvault.AccessPolicyEntry{
				{
					TenantID: to.Ptr(a.bootstrap.DirectoryTenantID),
					ObjectID: to.Ptr(a.bootstrap.PrincipalObjectID),
					Permissions: &armkeyvault.Permissions{
						Secrets: []*armkeyvault.SecretPermissions{
							to.Ptr(armkeyvault.SecretPermissionsGet),
							to.Ptr(armkeyvault.SecretPermissionsList),
							to.Ptr(armkeyvault.SecretPermissionsSet),
							to.Ptr(armkeyvault.SecretPermissionsDelete),
						},
					},
				},
			},
		},
	}

	poller, err := a.vaults.BeginCreateOrUpdate(ctx, a.bootstrap.ResourceGroup, vaultName, params, nil)
	if err != nil {
		return classify(err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return classify(err)
	}

	logging.Info("Azure", "Vault %s created in resource group %s", vaultName, a.bootstrap.ResourceGroup)
	return nil
}

// classify maps SDK and transport errors onto the package sentinels so
// callers can branch on errors.Is without importing the SDK.
func classify(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, respErr.ErrorCode)
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, respErr.ErrorCode)
		}
		return err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(err.Error(), "no such host") {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}
