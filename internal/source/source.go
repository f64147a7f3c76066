// Package source provides the record lists and portal credentials a run
// works from.
package source

import (
	"context"
	"errors"

	"github.com/xkilldash9x/settle-cli/api/schemas"
)

var (
	// ErrUnknownUnit means the source holds nothing for the requested unit.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrNoCredentials means no username or password is configured for a unit.
	ErrNoCredentials = errors.New("no credentials for unit")
)

// RecordSource supplies the ordered record list of each business unit.
type RecordSource interface {
	Records(ctx context.Context, unitID string) ([]schemas.Record, error)
	Units(ctx context.Context) ([]string, error)
}

// CredentialSource supplies portal credentials per unit.
type CredentialSource interface {
	Credentials(ctx context.Context, unitID string) (schemas.Credentials, error)
}
