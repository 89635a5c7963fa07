package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"credvault/internal/credential"
	"credvault/internal/scopes"
	"credvault/internal/vault"
	"credvault/pkg/logging"
)

// IdentityClient is the identity-provider surface the coordinator needs.
// *idp.Client satisfies it.
type IdentityClient interface {
	AuthorizationURL(state string, scopes []string) string
	ExchangeCode(ctx context.Context, code string, scopes []string) (*credential.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string, scopes []string) (*credential.TokenSet, error)
}

// BundleStore is the durable bundle surface the coordinator needs.
// *vault.Store satisfies it.
type BundleStore interface {
	Get(ctx context.Context, ref credential.Ref) (*credential.Bundle, error)
	Put(ctx context.Context, ref credential.Ref, bundle *credential.Bundle) error
}

// VaultManager is the provisioning surface the coordinator needs.
// *vault.Provisioner satisfies it.
type VaultManager interface {
	Exists(ctx context.Context, tenantRef string) (bool, error)
	Provision(ctx context.Context, tenantRef string, onProgress vault.ProgressFunc) error
}

// InitResult is what InitiateFlow hands back. Exactly one of the two shapes
// is populated: the synchronous shape (AuthorizationURL, State, ExpiresAt)
// when the tenant vault already exists, or the asynchronous shape
// (ProgressID, Provisioning=true) when provisioning was started in the
// background and the URL must be picked up via GetProgress.
type InitResult struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time

	ProgressID   string
	Provisioning bool
}

// Coordinator runs the authorization-code flow end to end: it issues state
// tokens, provisions tenant vaults on demand, exchanges callback codes for
// tokens, and persists the resulting bundles.
type Coordinator struct {
	idp         IdentityClient
	scopes      *scopes.Resolver
	provisioner VaultManager
	store       BundleStore
	cache       *credential.Cache

	requests   *RequestStore
	flowErrors *ErrorStore
	progress   *Tracker

	redirectURI string
	now         func() time.Time
}

// NewCoordinator wires a coordinator with its own request, error, and
// progress stores. Call Stop to shut their cleanup goroutines down.
func NewCoordinator(idp IdentityClient, resolver *scopes.Resolver, provisioner VaultManager, store BundleStore, cache *credential.Cache, redirectURI string, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		idp:         idp,
		scopes:      resolver,
		provisioner: provisioner,
		store:       store,
		cache:       cache,
		requests:    NewRequestStore(now),
		flowErrors:  NewErrorStore(now),
		progress:    NewTracker(now),
		redirectURI: redirectURI,
		now:         now,
	}
}

// Stop shuts down the coordinator's background cleanup goroutines.
func (c *Coordinator) Stop() {
	c.requests.Stop()
	c.flowErrors.Stop()
	c.progress.Stop()
}

// InitiateFlow starts an authorization flow for the given client and tenant.
// When the tenant vault already exists the authorization URL is built and
// returned synchronously. When it does not, provisioning is detached into a
// background task and a progress id is returned immediately; the caller
// polls GetProgress until the URL appears.
func (c *Coordinator) InitiateFlow(ctx context.Context, clientRef, tenantRef string, tier credential.ScopeTier, description string) (*InitResult, error) {
	exists, err := c.provisioner.Exists(ctx, tenantRef)
	if err != nil {
		return nil, fmt.Errorf("probing vault for tenant: %w", err)
	}

	if exists {
		state, authURL, expiresAt, err := c.buildAuthorization(clientRef, tenantRef, tier, description)
		if err != nil {
			return nil, err
		}
		return &InitResult{AuthorizationURL: authURL, State: state, ExpiresAt: expiresAt}, nil
	}

	id := uuid.NewString()
	c.progress.Start(id)
	logging.Info("Flow", "Vault missing for tenant=%s, provisioning in background progress=%s", tenantRef, id)

	// Detached on purpose: the initiating request returns immediately and
	// the task reports through the tracker. Canceling a poll must not
	// cancel provisioning.
	go c.provisionAndBuild(context.Background(), id, clientRef, tenantRef, tier, description)

	return &InitResult{ProgressID: id, Provisioning: true}, nil
}

// provisionAndBuild runs vault provisioning and then builds the flow's
// authorization URL, reporting every outcome through the tracker. Nothing is
// returned: the initiating caller is long gone.
func (c *Coordinator) provisionAndBuild(ctx context.Context, id, clientRef, tenantRef string, tier credential.ScopeTier, description string) {
	err := c.provisioner.Provision(ctx, tenantRef, func(pct int, msg string) {
		c.progress.Update(id, StatusCreating, msg, pct)
	})
	if err != nil {
		logging.Error("Flow", err, "Vault provisioning failed for tenant=%s", tenantRef)
		c.progress.Fail(id, provisioningFailureMessage(err))
		return
	}

	state, authURL, expiresAt, err := c.buildAuthorization(clientRef, tenantRef, tier, description)
	if err != nil {
		logging.Error("Flow", err, "Failed to build authorization URL for tenant=%s", tenantRef)
		c.progress.Fail(id, "Vault was created but the authorization URL could not be generated. Please try again.")
		return
	}
	c.progress.Complete(id, authURL, state, expiresAt)
}

func provisioningFailureMessage(err error) string {
	if vault.IsConfigurationMissing(err) {
		return err.Error()
	}
	return "Vault provisioning failed. Please try again or contact your administrator."
}

// buildAuthorization issues a state token and assembles the IdP
// authorization URL for the tier's scopes.
func (c *Coordinator) buildAuthorization(clientRef, tenantRef string, tier credential.ScopeTier, description string) (state, authURL string, expiresAt time.Time, err error) {
	state, expiresAt, err = c.requests.Create(&AuthorizationRequest{
		ClientRef:   clientRef,
		TenantRef:   tenantRef,
		Tier:        tier,
		RedirectURI: c.redirectURI,
		Description: description,
	})
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generating state token: %w", err)
	}
	authURL = c.idp.AuthorizationURL(state, c.scopes.ScopesFor(tier))
	return state, authURL, expiresAt, nil
}

// GetProgress is a pure read of the provisioning tracker.
func (c *Coordinator) GetProgress(id string) *Progress {
	return c.progress.Get(id)
}

// GetFlowError returns and removes the error record for a state token, or
// nil if none exists.
func (c *Coordinator) GetFlowError(state string) *ErrorRecord {
	return c.flowErrors.Take(state)
}

// HandleCallback processes the IdP redirect. It reports success as a
// boolean; failures before and during the exchange are captured as error
// records under the state token rather than returned, because the browser
// redirect is the only thing on the other end of this call.
func (c *Coordinator) HandleCallback(ctx context.Context, code, state, errParam, errDescription string) bool {
	if errParam != "" {
		logging.Warn("Flow", "Callback carried provider error %s for state=%s", errParam, logging.TruncateSecret(state))
		// A failed callback still consumes the state; it must not stay
		// accepted for a later callback carrying a code.
		c.requests.Take(state)
		c.flowErrors.Put(classifyIdPError(state, errParam, errDescription))
		return false
	}

	req := c.requests.Take(state)
	if req == nil {
		return false
	}

	rmTokens, err := c.idp.ExchangeCode(ctx, code, c.scopes.ScopesFor(credential.TierResourceManager))
	if err != nil {
		logging.Error("Flow", err, "Code exchange failed for tenant=%s client=%s", req.TenantRef, req.ClientRef)
		c.flowErrors.Put(&ErrorRecord{
			State:       state,
			Code:        CodeTokenExchangeFailed,
			Description: err.Error(),
			Recoverable: true,
			UserMessage: "Exchanging the authorization code failed. Please restart the flow.",
		})
		return false
	}
	if !strings.Contains(rmTokens.Scope, c.scopes.MarkerFor(credential.TierResourceManager)) {
		logging.Warn("Flow", "Exchange for tenant=%s granted scope without resource-manager marker: %s", req.TenantRef, rmTokens.Scope)
		c.flowErrors.Put(&ErrorRecord{
			State:       state,
			Code:        CodeTokenExchangeFailed,
			Recoverable: true,
			UserMessage: "The identity provider granted an unexpected permission set. Please restart the flow.",
		})
		return false
	}

	// Directory tokens ride on the resource-manager refresh token via a
	// second, scope-specific grant. Failure here is not fatal: the
	// resource-manager tokens are still stored and directory access shows
	// as unavailable until a later upgrade.
	var dirTokens *credential.TokenSet
	if req.Tier.Has(credential.TierDirectoryGraph) && rmTokens.RefreshToken != "" {
		dirTokens, err = c.idp.Refresh(ctx, rmTokens.RefreshToken, c.scopes.ScopesFor(credential.TierDirectoryGraph))
		if err != nil {
			logging.Warn("Flow", "Directory token exchange failed for tenant=%s client=%s: %v", req.TenantRef, req.ClientRef, err)
			dirTokens = nil
		} else if !strings.Contains(dirTokens.Scope, c.scopes.MarkerFor(credential.TierDirectoryGraph)) {
			logging.Warn("Flow", "Directory exchange granted scope without directory marker: %s", dirTokens.Scope)
			dirTokens = nil
		}
	}

	ref := credential.Ref{TenantRef: req.TenantRef, ClientRef: req.ClientRef}
	if !c.persistBundle(ctx, ref, req, rmTokens, dirTokens) {
		c.flowErrors.Put(&ErrorRecord{
			State:       state,
			Code:        CodeVaultUnavailable,
			Recoverable: true,
			UserMessage: "Authorization succeeded but the credentials could not be stored. Please try again.",
		})
		return false
	}

	logging.Info("Flow", "Authorization flow completed for tenant=%s client=%s tier=%s (directory=%t)",
		req.TenantRef, req.ClientRef, req.Tier, dirTokens != nil)
	return true
}

// persistBundle merges the exchanged tokens into any pre-existing bundle and
// writes it back. A sub-record is only overwritten when this exchange
// actually granted that tier; an upgrade never clobbers a sibling tier that
// was not part of the exchange.
func (c *Coordinator) persistBundle(ctx context.Context, ref credential.Ref, req *AuthorizationRequest, rmTokens, dirTokens *credential.TokenSet) bool {
	bundle, err := c.store.Get(ctx, ref)
	if err != nil {
		logging.Error("Flow", err, "Reading existing bundle failed for client=%s", ref.ClientRef)
		return false
	}
	if bundle == nil {
		bundle = &credential.Bundle{}
	}

	bundle.SetTokens(credential.TierResourceManager, rmTokens)
	if dirTokens != nil {
		bundle.SetTokens(credential.TierDirectoryGraph, dirTokens)
	}
	if req.Description != "" {
		bundle.ClientName = req.Description
	}
	bundle.StoredAt = c.now()

	if err := c.store.Put(ctx, ref, bundle); err != nil {
		logging.Error("Flow", err, "Storing bundle failed for client=%s", ref.ClientRef)
		return false
	}
	c.cache.Invalidate(ref)
	return true
}
