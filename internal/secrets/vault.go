package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/splax/pado/internal/domain"
)

const revokeTimeout = 5 * time.Second

// VaultConfig configures AppRole access to Vault.
type VaultConfig struct {
	Address   string
	Namespace string
	RoleID    string
	SecretID  string
	Timeout   time.Duration
}

// Vault issues wrapped AppRole secret ids. Every call logs in afresh and
// revokes the session token once the wrap is done.
type Vault struct {
	client    *vault.Client
	namespace string
	roleID    string
	secretID  string
	log       *slog.Logger
}

var _ Broker = (*Vault)(nil)

// NewVault constructs a Vault broker.
func NewVault(cfg VaultConfig, log *slog.Logger) (*Vault, error) {
	if strings.TrimSpace(cfg.RoleID) == "" || strings.TrimSpace(cfg.SecretID) == "" {
		return nil, errors.New("vault approle credentials are required")
	}
	vcfg := vault.DefaultConfig()
	if vcfg.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vcfg.Error)
	}
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		vcfg.Timeout = cfg.Timeout
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Vault{client: client, namespace: cfg.Namespace, roleID: cfg.RoleID, secretID: cfg.SecretID, log: log}, nil
}

// IssueWrappedToken logs in with the held AppRole credential, asks Vault for a
// new secret id on role, and returns the wrapping token that guards it.
func (v *Vault) IssueWrappedToken(ctx context.Context, role string, ttl time.Duration) (string, error) {
	if role == "" {
		return "", fmt.Errorf("empty worker role: %w", domain.ErrSecretBroker)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("wrap ttl must be positive: %w", domain.ErrSecretBroker)
	}

	session, err := v.login(ctx)
	if err != nil {
		return "", err
	}
	defer v.revoke(ctx, session)

	client, err := v.clone(session)
	if err != nil {
		return "", err
	}
	wrapTTL := strconv.Itoa(int(ttl.Seconds())) + "s"
	client.SetWrappingLookupFunc(func(operation, path string) string {
		return wrapTTL
	})

	path := "auth/approle/role/" + role + "/secret-id"
	secret, err := client.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return "", fmt.Errorf("wrap secret id for %s: %v: %w", role, err, domain.ErrSecretBroker)
	}
	if secret == nil || secret.WrapInfo == nil || secret.WrapInfo.Token == "" {
		return "", fmt.Errorf("vault returned no wrapping token for %s: %w", role, domain.ErrSecretBroker)
	}
	v.log.Debug("issued wrapped secret id", "role", role, "ttl_seconds", secret.WrapInfo.TTL)
	return secret.WrapInfo.Token, nil
}

func (v *Vault) login(ctx context.Context) (string, error) {
	client, err := v.clone("")
	if err != nil {
		return "", err
	}
	secret, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   v.roleID,
		"secret_id": v.secretID,
	})
	if err != nil {
		return "", fmt.Errorf("approle login: %v: %w", err, domain.ErrSecretBroker)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return "", fmt.Errorf("approle login returned no token: %w", domain.ErrSecretBroker)
	}
	return secret.Auth.ClientToken, nil
}

// revoke drops the login session. A failure is logged only: the token still
// expires with its lease.
func (v *Vault) revoke(ctx context.Context, session string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
	defer cancel()
	client, err := v.clone(session)
	if err != nil {
		v.log.Warn("revoke vault session", "error", err)
		return
	}
	if err := client.Auth().Token().RevokeSelfWithContext(ctx, ""); err != nil {
		v.log.Warn("revoke vault session", "error", err)
	}
}

// clone returns a request-scoped client carrying token, or no token at all.
func (v *Vault) clone(token string) (*vault.Client, error) {
	client, err := v.client.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone vault client: %v: %w", err, domain.ErrSecretBroker)
	}
	if token == "" {
		client.ClearToken()
	} else {
		client.SetToken(token)
	}
	if v.namespace != "" {
		client.SetNamespace(v.namespace)
	}
	return client, nil
}
