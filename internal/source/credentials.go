package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xkilldash9x/settle-cli/api/schemas"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

// ConfigCredentials reads credentials from the units section of the
// configuration. A SETTLE_UNIT_<ID>_PASSWORD environment variable overrides
// the configured password so secrets can stay out of config files.
type ConfigCredentials struct {
	units     map[string]config.UnitConfig
	lookupEnv func(string) (string, bool)
}

// NewConfigCredentials creates a credential source over units.
func NewConfigCredentials(units map[string]config.UnitConfig) *ConfigCredentials {
	return &ConfigCredentials{units: units, lookupEnv: os.LookupEnv}
}

// PasswordEnvVar returns the environment variable consulted for unitID.
func PasswordEnvVar(unitID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(unitID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "SETTLE_UNIT_" + b.String() + "_PASSWORD"
}

// Credentials implements CredentialSource.
func (c *ConfigCredentials) Credentials(ctx context.Context, unitID string) (schemas.Credentials, error) {
	u, ok := c.lookup(unitID)
	if !ok || u.Username == "" {
		return schemas.Credentials{}, fmt.Errorf("%w: %s", ErrNoCredentials, unitID)
	}
	password := u.Password
	if v, ok := c.lookupEnv(PasswordEnvVar(unitID)); ok && v != "" {
		password = v
	}
	if password == "" {
		return schemas.Credentials{}, fmt.Errorf("%w: %s has no password", ErrNoCredentials, unitID)
	}
	return schemas.Credentials{Username: u.Username, Password: password}, nil
}

// lookup tolerates viper lower-casing map keys.
func (c *ConfigCredentials) lookup(unitID string) (config.UnitConfig, bool) {
	if u, ok := c.units[unitID]; ok {
		return u, true
	}
	u, ok := c.units[strings.ToLower(unitID)]
	return u, ok
}
