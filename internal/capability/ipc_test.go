package capability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/types"
)

// TestIPCRequestRoundTrip asserts that serializing then parsing a
// capability request yields the original object exactly, per the
// round-trip property the IPC contract requires.
func TestIPCRequestRoundTrip(t *testing.T) {
	want := types.CapabilityRequest{
		Version: types.IPCVersion,
		ID:      "req-1",
		Method:  "invoke",
		Params:  json.RawMessage(`{"path":"/tmp/x"}`),
	}

	line, err := json.Marshal(want)
	require.NoError(t, err)

	var got types.CapabilityRequest
	require.NoError(t, json.Unmarshal(line, &got))

	assert.Equal(t, want, got)
}

func TestIPCResponseRoundTrip(t *testing.T) {
	want := types.CapabilityResponse{
		Version:     types.IPCVersion,
		ID:          "req-1",
		Result:      json.RawMessage(`{"ok":true}`),
		Metrics:     map[string]float64{"wall_ms": 12.5},
		SideEffects: []types.Permission{types.PermFileRead},
	}

	line, err := json.Marshal(want)
	require.NoError(t, err)

	var got types.CapabilityResponse
	require.NoError(t, json.Unmarshal(line, &got))

	assert.Equal(t, want, got)
}

func TestIPCResponse_UnknownFieldsIgnored(t *testing.T) {
	raw := `{"version":1,"id":"req-1","result":{"ok":true},"unexpected_field":"ignored"}`

	var got types.CapabilityResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &got))

	assert.Equal(t, "req-1", got.ID)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
}
