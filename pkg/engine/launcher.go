package engine

import (
	"context"

	"github.com/fleetedge/deployd/pkg/ipc"
	"github.com/fleetedge/deployd/pkg/runtime"
)

// tokenInjectingLauncher wraps a runtime.Launcher, minting a fresh IPC
// bearer token for the launched service and handing it over via the
// DEPLOYD_AUTH_TOKEN environment variable (§6 "IPC wire"), grounded in the
// teacher's manager.TokenManager/JoinToken issuance-at-join idiom adapted
// to issuance-at-service-startup. The executor itself stays ignorant of
// IPC auth; wiring it in here keeps that concern at the construction-time
// container rather than threading a TokenManager through pkg/lifecycle.
type tokenInjectingLauncher struct {
	inner  runtime.Launcher
	tokens *ipc.TokenManager
}

func (l *tokenInjectingLauncher) RunScript(ctx context.Context, spec runtime.ScriptSpec) error {
	tok, err := l.tokens.Issue(spec.ServiceName)
	if err != nil {
		return err
	}
	spec.Env = append(spec.Env, "DEPLOYD_AUTH_TOKEN="+tok.Value)
	return l.inner.RunScript(ctx, spec)
}

func (l *tokenInjectingLauncher) StartService(ctx context.Context, spec runtime.ServiceSpec) (runtime.ServiceHandle, error) {
	tok, err := l.tokens.Issue(spec.ServiceName)
	if err != nil {
		return nil, err
	}
	spec.Env = append(spec.Env, "DEPLOYD_AUTH_TOKEN="+tok.Value)
	return l.inner.StartService(ctx, spec)
}
