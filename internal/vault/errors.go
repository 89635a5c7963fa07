package vault

import (
	"errors"
	"fmt"
	"strings"
)

// Tagged sentinels for vault access outcomes. Callers branch on these with
// errors.Is instead of catching provider-specific error types.
var (
	// ErrNotFound means the vault or secret does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnreachable means the vault host could not be reached (DNS or
	// connect failure). A deleted vault's hostname stops resolving, so
	// existence probes treat this the same as not found.
	ErrUnreachable = errors.New("vault unreachable")

	// ErrAlreadyExists means a create conflicted with an existing vault.
	// Duplicate-create races resolve by treating this as success.
	ErrAlreadyExists = errors.New("vault already exists")
)

// ConfigurationMissingError is fatal: provisioning cannot proceed until an
// administrator supplies the missing bootstrap values.
type ConfigurationMissingError struct {
	Missing []string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf(
		"vault bootstrap configuration incomplete: missing %s; "+
			"set these under the azure section of the configuration file (or the matching environment overrides) and restart",
		strings.Join(e.Missing, ", "))
}

// IsConfigurationMissing reports whether err is a ConfigurationMissingError.
func IsConfigurationMissing(err error) bool {
	var cm *ConfigurationMissingError
	return errors.As(err, &cm)
}
