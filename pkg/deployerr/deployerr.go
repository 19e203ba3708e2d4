// Package deployerr defines the closed vocabulary of deployment-scoped error
// kinds a reader can switch on, per the error handling design: resolver
// failures, validation rejection, apply-phase failures, and rollback
// outcomes all carry one of these kinds so a status consumer can react to
// "why" without parsing free-text messages.
package deployerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a deployment failure.
type Kind string

const (
	// KindInvalidDocument means the deployment document failed to parse
	// or failed schema-level validation before any resolution began.
	KindInvalidDocument Kind = "INVALID_DOCUMENT"

	// KindNoViableVersion means the resolver could not find a version of
	// some component that satisfies every contributing constraint.
	KindNoViableVersion Kind = "NO_VIABLE_VERSION"

	// KindCircularDependency means the resolver detected a cycle in the
	// chosen-version dependency graph.
	KindCircularDependency Kind = "CIRCULAR_DEPENDENCY"

	// KindUnsupportedCapability means the device does not advertise a
	// capability the document's required_capabilities lists.
	KindUnsupportedCapability Kind = "UNSUPPORTED_CAPABILITY"

	// KindPackageDownloadFailed means a component fetch failed during the
	// fetch phase.
	KindPackageDownloadFailed Kind = "PACKAGE_DOWNLOAD_FAILED"

	// KindConfigurationRejected means a subscribed component rejected, or
	// timed out responding to, the dynamic validation protocol.
	KindConfigurationRejected Kind = "CONFIGURATION_REJECTED_BY_COMPONENT"

	// KindServiceUpdateFailed means a component ended the apply phase in
	// BROKEN state.
	KindServiceUpdateFailed Kind = "SERVICE_UPDATE_FAILED"

	// KindRollbackIncomplete means the rollback manager itself failed to
	// fully restore the pre-deployment snapshot.
	KindRollbackIncomplete Kind = "ROLLBACK_INCOMPLETE"
)

// DeploymentError is the typed error surfaced at deployment scope. Detail
// carries kind-specific structured context (e.g. the conflicting constraint
// pair for KindNoViableVersion) for callers that want more than the message.
type DeploymentError struct {
	Kind    Kind
	Message string
	Detail  map[string]string
	Cause   error
}

func (e *DeploymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DeploymentError) Unwrap() error { return e.Cause }

// New constructs a DeploymentError with no wrapped cause.
func New(kind Kind, format string, args ...any) *DeploymentError {
	return &DeploymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a DeploymentError around an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *DeploymentError {
	return &DeploymentError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail attaches structured detail fields and returns the receiver for
// chaining at the construction site.
func (e *DeploymentError) WithDetail(key, value string) *DeploymentError {
	if e.Detail == nil {
		e.Detail = make(map[string]string)
	}
	e.Detail[key] = value
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *DeploymentError,
// and reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var de *DeploymentError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// Is reports whether err is a *DeploymentError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
