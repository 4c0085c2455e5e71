package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tor-wasm/transportcore/internal/logging"
	"github.com/tor-wasm/transportcore/internal/metrics"
)

// Client calls the trust-tiered credential authority described in the
// state machine: open-invite issues a fresh tier-0 credential,
// get-bridge assigns a bridge, trust-migration promotes a tier,
// check-blockage reports a blocked bridge without losing trust.
type Client struct {
	authorityURL string
	httpClient   *http.Client
	store        Store
	log          *slog.Logger
	metrics      *metrics.Metrics

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewClient returns a Client pointed at authorityURL, persisting
// through store.
func NewClient(authorityURL string, store Store, log *slog.Logger) *Client {
	return &Client{
		authorityURL: strings.TrimRight(authorityURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		store:        store,
		log:          logging.OrDefault(log),
		metrics:      metrics.Default(),
		now:          time.Now,
	}
}

// BridgeInfo is the result of a successful GetBridge call.
type BridgeInfo struct {
	BridgeURL         string `json:"bridge_url"`
	BridgeFingerprint string `json:"bridge_fingerprint"`
	TrustTier         int    `json:"trust_level"`
}

// BlockageResult is the result of a successful CheckBlockage call.
type BlockageResult struct {
	Blocked        bool   `json:"blocked"`
	MigrationToken string `json:"migration_token"`
	TrustTier      int    `json:"trust_level"`
}

// OpenInvite requests a fresh tier-0 credential. The authority
// rate-limits this per source IP to one per 24 hours.
func (c *Client) OpenInvite(ctx context.Context) (Credential, error) {
	var resp struct {
		ID         string `json:"id"`
		Credential string `json:"credential"`
		TrustTier  int    `json:"trust_level"`
	}
	if err := c.post(ctx, "open-invite", struct{}{}, &resp); err != nil {
		return Credential{}, err
	}

	now := c.now()
	cred := Credential{
		ID:           resp.ID,
		Secret:       resp.Credential,
		TrustTier:    resp.TrustTier,
		AuthorityURL: c.authorityURL,
		CreatedAt:    now,
		LastUse:      now,
	}
	if err := c.store.Save(cred); err != nil {
		return Credential{}, err
	}
	c.metrics.CredentialTrustTier.Set(float64(cred.TrustTier))
	c.log.Info("credential issued", logging.KeyCredID, cred.ID, logging.KeyTrustTier, cred.TrustTier)
	return cred, nil
}

// GetBridge exchanges cred for a bridge assignment, persisting the
// updated credential.
func (c *Client) GetBridge(ctx context.Context, cred Credential) (Credential, BridgeInfo, error) {
	req := struct {
		ID         string `json:"id"`
		Credential string `json:"credential"`
	}{cred.ID, cred.Secret}

	var resp struct {
		BridgeURL         string `json:"bridge_url"`
		BridgeFingerprint string `json:"bridge_fingerprint"`
		TrustTier         int    `json:"trust_level"`
	}
	if err := c.post(ctx, "get-bridge", req, &resp); err != nil {
		return cred, BridgeInfo{}, err
	}

	cred.BridgeURL = resp.BridgeURL
	cred.BridgeFingerprint = resp.BridgeFingerprint
	if resp.TrustTier != 0 {
		cred.TrustTier = resp.TrustTier
	}
	cred.LastUse = c.now()
	if err := c.store.Save(cred); err != nil {
		return cred, BridgeInfo{}, err
	}
	c.metrics.CredentialTrustTier.Set(float64(cred.TrustTier))

	return cred, BridgeInfo{
		BridgeURL:         resp.BridgeURL,
		BridgeFingerprint: resp.BridgeFingerprint,
		TrustTier:         cred.TrustTier,
	}, nil
}

// TrustMigration promotes cred to the next tier. The authority enforces
// the age thresholds in MigrationThresholds; a premature request
// returns an error.
func (c *Client) TrustMigration(ctx context.Context, cred Credential) (Credential, error) {
	req := struct {
		ID         string `json:"id"`
		Credential string `json:"credential"`
	}{cred.ID, cred.Secret}

	var resp struct {
		Credential string `json:"credential"`
		TrustTier  int    `json:"trust_level"`
		Error      string `json:"error"`
	}
	if err := c.post(ctx, "trust-migration", req, &resp); err != nil {
		return cred, err
	}
	if resp.Error != "" {
		return cred, fmt.Errorf("trust migration refused: %s", resp.Error)
	}

	cred.TrustTier = resp.TrustTier
	cred.Secret = resp.Credential
	cred.LastUse = c.now()
	if err := c.store.Save(cred); err != nil {
		return cred, err
	}
	c.metrics.CredentialTrustTier.Set(float64(cred.TrustTier))
	c.log.Info("credential migrated", logging.KeyCredID, cred.ID, logging.KeyTrustTier, cred.TrustTier)
	return cred, nil
}

// CheckBlockage reports bridgeFingerprint as blocked. Trust tier is
// preserved; the stored bridge assignment is cleared so the next
// GetBridge call picks a fresh one.
func (c *Client) CheckBlockage(ctx context.Context, cred Credential, bridgeFingerprint string) (Credential, BlockageResult, error) {
	req := struct {
		ID                string `json:"id"`
		Credential        string `json:"credential"`
		BridgeFingerprint string `json:"bridge_fingerprint"`
	}{cred.ID, cred.Secret, bridgeFingerprint}

	var resp struct {
		Blocked        bool   `json:"blocked"`
		MigrationToken string `json:"migration_token"`
		TrustTier      int    `json:"trust_level"`
	}
	if err := c.post(ctx, "check-blockage", req, &resp); err != nil {
		return cred, BlockageResult{}, err
	}

	if resp.TrustTier != 0 {
		cred.TrustTier = resp.TrustTier
	}
	cred.BridgeURL = ""
	cred.BridgeFingerprint = ""
	cred.LastUse = c.now()
	if err := c.store.Save(cred); err != nil {
		return cred, BlockageResult{}, err
	}
	c.metrics.CredentialTrustTier.Set(float64(cred.TrustTier))

	return cred, BlockageResult{
		Blocked:        resp.Blocked,
		MigrationToken: resp.MigrationToken,
		TrustTier:      cred.TrustTier,
	}, nil
}

// Load reads the persisted credential, if any.
func (c *Client) Load() (Credential, error) {
	return c.store.Load()
}

func (c *Client) post(ctx context.Context, op string, body, out any) error {
	c.metrics.CredentialOps.WithLabelValues(op).Inc()

	if err := c.doPost(ctx, op, body, out); err != nil {
		c.metrics.CredentialOpErrors.WithLabelValues(op).Inc()
		return err
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, op string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	url := c.authorityURL + "/lox/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: authority returned status %d", op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
