package types

import (
	"encoding/json"
	"testing"

	"github.com/fleetedge/deployd/pkg/deployerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigurationDocument_ValidMinimal(t *testing.T) {
	raw := []byte(`{
		"configurationArn": "arn:device:config:1",
		"components": {
			"camera-agent": {"version": ">=1.0.0 <2.0.0"}
		}
	}`)

	doc, err := ParseConfigurationDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "arn:device:config:1", doc.ConfigurationArn)
	assert.Equal(t, FailureHandlingDoNothing, doc.FailureHandlingPolicy)
	assert.Equal(t, ComponentUpdateNotify, doc.ComponentUpdatePolicy.Action)
	require.Contains(t, doc.Components, "camera-agent")
}

func TestParseConfigurationDocument_RejectsMalformedJSON(t *testing.T) {
	_, err := ParseConfigurationDocument([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindInvalidDocument))
}

func TestParseConfigurationDocument_RequiresConfigurationArn(t *testing.T) {
	raw := []byte(`{"components": {"a": {"version": "1.0.0"}}}`)
	_, err := ParseConfigurationDocument(raw)
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindInvalidDocument))
}

func TestParseConfigurationDocument_RequiresNonEmptyComponents(t *testing.T) {
	raw := []byte(`{"configurationArn": "arn:x", "components": {}}`)
	_, err := ParseConfigurationDocument(raw)
	require.Error(t, err)
}

func TestParseConfigurationDocument_RejectsUnknownFailureHandlingPolicy(t *testing.T) {
	raw := []byte(`{
		"configurationArn": "arn:x",
		"components": {"a": {"version": "1.0.0"}},
		"failureHandlingPolicy": "RETRY_FOREVER"
	}`)
	_, err := ParseConfigurationDocument(raw)
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindInvalidDocument))
}

func TestParseConfigurationDocument_RequiresVersionPerComponent(t *testing.T) {
	raw := []byte(`{
		"configurationArn": "arn:x",
		"components": {"a": {}}
	}`)
	_, err := ParseConfigurationDocument(raw)
	require.Error(t, err)
}

func TestConfigurationUpdate_UnmarshalMergeOnly(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{"merge": {"logLevel": "debug"}}`), &u)
	require.NoError(t, err)
	require.NotNil(t, u.Merge)
	s, ok := u.Merge.Object["logLevel"].AsString()
	require.True(t, ok)
	assert.Equal(t, "debug", s)
	assert.False(t, u.ResetAll)
	assert.Empty(t, u.Reset)
}

func TestConfigurationUpdate_UnmarshalEmptyResetMeansResetAll(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{"reset": []}`), &u)
	require.NoError(t, err)
	assert.True(t, u.ResetAll)
	assert.Empty(t, u.Reset)
}

func TestConfigurationUpdate_UnmarshalAbsentResetMeansNoReset(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{}`), &u)
	require.NoError(t, err)
	assert.False(t, u.ResetAll)
	assert.Nil(t, u.Reset)
}

func TestConfigurationUpdate_UnmarshalRootPointerInResetMeansResetAll(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{"reset": [""]}`), &u)
	require.NoError(t, err)
	assert.True(t, u.ResetAll)
	assert.Empty(t, u.Reset)
}

func TestConfigurationUpdate_UnmarshalSpecificPaths(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{"reset": ["/a/b", "/c"]}`), &u)
	require.NoError(t, err)
	assert.False(t, u.ResetAll)
	require.Len(t, u.Reset, 2)
	assert.Equal(t, "/a/b", u.Reset[0].String())
	assert.Equal(t, "/c", u.Reset[1].String())
}

func TestConfigurationUpdate_MarshalRoundTrips(t *testing.T) {
	var u ConfigurationUpdate
	err := json.Unmarshal([]byte(`{"merge": {"x": 1}, "reset": ["/a"]}`), &u)
	require.NoError(t, err)

	out, err := json.Marshal(u)
	require.NoError(t, err)

	var roundTripped ConfigurationUpdate
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.False(t, roundTripped.ResetAll)
	require.Len(t, roundTripped.Reset, 1)
	assert.Equal(t, "/a", roundTripped.Reset[0].String())
	require.NotNil(t, roundTripped.Merge)
}

func TestDeploymentStatus_Terminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusInProgress, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusSuperseded, true},
		{StatusCancelled, true},
	}
	for _, c := range cases {
		s := DeploymentStatus{Status: c.status}
		assert.Equal(t, c.want, s.Terminal(), "status %s", c.status)
	}
}

func TestServiceLifecycleState_Terminal(t *testing.T) {
	assert.True(t, StateFinished.Terminal())
	assert.True(t, StateBroken.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateNew.Terminal())
}

func TestComponent_String(t *testing.T) {
	c := Component{Name: "camera-agent", Version: "1.2.3"}
	assert.Equal(t, "camera-agent@1.2.3", c.String())
}

func TestDeriveComponentsToGroups_BuildsInverseIndex(t *testing.T) {
	g := GroupToRoots{
		"group-a": {
			"camera-agent": GroupRoot{ComponentName: "camera-agent", VersionRequirement: ">=1.0.0"},
			"uploader":     GroupRoot{ComponentName: "uploader", VersionRequirement: "*"},
		},
		"group-b": {
			"camera-agent": GroupRoot{ComponentName: "camera-agent", VersionRequirement: "<2.0.0"},
		},
	}

	inv := DeriveComponentsToGroups(g)
	require.Contains(t, inv, "camera-agent")
	assert.Len(t, inv["camera-agent"], 2)
	assert.Contains(t, inv["camera-agent"], "group-a")
	assert.Contains(t, inv["camera-agent"], "group-b")
	require.Contains(t, inv, "uploader")
	assert.Len(t, inv["uploader"], 1)
}

func TestGroupToRoots_CloneIsIndependent(t *testing.T) {
	g := GroupToRoots{
		"group-a": {"camera-agent": GroupRoot{ComponentName: "camera-agent", VersionRequirement: "1.0.0"}},
	}
	clone := g.Clone()
	clone["group-a"]["camera-agent"] = GroupRoot{ComponentName: "camera-agent", VersionRequirement: "2.0.0"}

	assert.Equal(t, "1.0.0", g["group-a"]["camera-agent"].VersionRequirement)
	assert.Equal(t, "2.0.0", clone["group-a"]["camera-agent"].VersionRequirement)
}

func TestComponentsToGroups_CloneIsIndependent(t *testing.T) {
	c := ComponentsToGroups{"camera-agent": {"group-a": struct{}{}}}
	clone := c.Clone()
	clone["camera-agent"]["group-b"] = struct{}{}

	assert.Len(t, c["camera-agent"], 1)
	assert.Len(t, clone["camera-agent"], 2)
}
