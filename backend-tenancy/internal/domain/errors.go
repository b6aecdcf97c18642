package domain

import "errors"

var (
	// ErrTenantNotFound is returned for unknown or inactive tenant ids. Never retried.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrUnsupportedStrategy marks a tenant record naming a strategy the router does not implement.
	ErrUnsupportedStrategy = errors.New("unsupported tenant strategy")
	// ErrConnectionFailure wraps network or auth failures acquiring a session or pool.
	ErrConnectionFailure = errors.New("tenant connection failure")
	// ErrProvisioningFailure is returned when CreateTenant rolled back.
	ErrProvisioningFailure = errors.New("tenant provisioning failure")
	// ErrVaultFailure is returned when a stored credential cannot be decrypted.
	ErrVaultFailure = errors.New("credential vault failure")
	// ErrInvalidTenant is returned when a create request fails validation.
	ErrInvalidTenant = errors.New("invalid tenant specification")
	// ErrManagerClosed is returned by operations issued after Shutdown.
	ErrManagerClosed = errors.New("tenancy manager is shut down")
)
