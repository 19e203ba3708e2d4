package deployerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatsMessage(t *testing.T) {
	err := New(KindNoViableVersion, "component %q has no viable version", "camera-agent")

	assert.Equal(t, KindNoViableVersion, err.Kind)
	assert.Equal(t, `component "camera-agent" has no viable version`, err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, `NO_VIABLE_VERSION: component "camera-agent" has no viable version`, err.Error())
}

func TestWrap_PreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindPackageDownloadFailed, cause, "fetching %s", "agent@1.2.3")

	assert.Equal(t, cause, err.Cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "PACKAGE_DOWNLOAD_FAILED")
}

func TestWithDetail_ChainsAndAccumulates(t *testing.T) {
	err := New(KindNoViableVersion, "conflict").
		WithDetail("component", "camera-agent").
		WithDetail("constraint_a", ">=1.0.0").
		WithDetail("constraint_b", "<1.0.0")

	require.NotNil(t, err.Detail)
	assert.Equal(t, "camera-agent", err.Detail["component"])
	assert.Equal(t, ">=1.0.0", err.Detail["constraint_a"])
	assert.Equal(t, "<1.0.0", err.Detail["constraint_b"])
}

func TestKindOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(KindCircularDependency, "cycle detected")
	wrapped := errors.New("outer context")
	_ = wrapped

	wrappedWithFmt := fmtWrap(base)

	kind, ok := KindOf(wrappedWithFmt)
	require.True(t, ok)
	assert.Equal(t, KindCircularDependency, kind)
}

func TestKindOf_FalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("not a deployment error"))
	assert.False(t, ok)
}

func TestIs_MatchesExactKindOnly(t *testing.T) {
	err := New(KindConfigurationRejected, "component rejected update")

	assert.True(t, Is(err, KindConfigurationRejected))
	assert.False(t, Is(err, KindServiceUpdateFailed))
	assert.False(t, Is(errors.New("plain"), KindConfigurationRejected))
}

// fmtWrap mimics a caller wrapping a *DeploymentError with %w through
// fmt.Errorf, to exercise errors.As traversal.
func fmtWrap(err error) error {
	return fmt.Errorf("outer context: %w", err)
}
