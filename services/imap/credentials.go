package imap

import (
	"context"
	"fmt"
	"os"
	"strings"

	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

// EnvCredentialProvider resolves credential references of the form
// "env:VAR_NAME" from the process environment. References prefixed with
// "plain:" carry the secret inline, for development setups only.
type EnvCredentialProvider struct{}

func NewEnvCredentialProvider() *EnvCredentialProvider {
	return &EnvCredentialProvider{}
}

func (p *EnvCredentialProvider) Resolve(ctx context.Context, account *models.Account) (string, error) {
	ref := account.CredentialRef
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		secret, ok := os.LookupEnv(name)
		if !ok || secret == "" {
			return "", fmt.Errorf("credential variable %s for account %s is not set: %w", name, account.ID, er.ErrAuthenticationFailed)
		}
		return secret, nil
	case strings.HasPrefix(ref, "plain:"):
		return strings.TrimPrefix(ref, "plain:"), nil
	case ref == "":
		return "", fmt.Errorf("account %s has no credential reference: %w", account.ID, er.ErrAuthenticationFailed)
	default:
		return "", fmt.Errorf("unsupported credential reference %q on account %s: %w", ref, account.ID, er.ErrAuthenticationFailed)
	}
}
