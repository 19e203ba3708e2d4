package configstore

import (
	"context"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
)

// ValidationOutcome is one component's response to a validate_configuration
// round trip, or the synthetic outcome produced by a timeout.
type ValidationOutcome struct {
	Accepted bool
	Message  string
}

// ValidationClient is implemented by the IPC surface (pkg/ipc): it knows
// which running components subscribed to configuration validation and can
// drive a single request/response round trip with one of them.
type ValidationClient interface {
	// IsSubscribed reports whether componentName currently has an open
	// subscribe_validate_configuration_updates channel.
	IsSubscribed(componentName string) bool

	// Validate publishes a validate_configuration event to componentName
	// carrying the deployment id and proposed configuration, then blocks
	// until the component replies or timeout elapses. A disconnected
	// subscriber or an elapsed timeout both return ValidationOutcome{
	// Accepted: false} with no error, per §7 ("treated as 'no defer'"
	// read across to validation: absence of a reply is a rejection, never
	// a panic or a hung deployment).
	Validate(ctx context.Context, componentName, deploymentID string, proposed *configtree.Value, timeout time.Duration) (ValidationOutcome, error)
}

// NoopValidationClient is used when no IPC server is wired (e.g. in
// tests), treating every component as unsubscribed.
type NoopValidationClient struct{}

func (NoopValidationClient) IsSubscribed(string) bool { return false }

func (NoopValidationClient) Validate(context.Context, string, string, *configtree.Value, time.Duration) (ValidationOutcome, error) {
	return ValidationOutcome{Accepted: true}, nil
}
