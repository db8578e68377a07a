package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectText(t *testing.T) {
	out, err := execute(t, "inspect", tierupWorkload)
	require.NoError(t, err)

	assert.Contains(t, out, "Block 0x1000")
	assert.Contains(t, out, "Block 0x2000")
	assert.Contains(t, out, "movi r3, 30")
	assert.Contains(t, out, "0 -> 1 true (1)")
}

func TestInspectSingleBlockJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "inspect", tierupWorkload, "--block", "0x2000", "--mode", "aot")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []InspectBlock `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)

	ib := resp.Data[0]
	assert.Equal(t, "0x2000", ib.Block)
	assert.Equal(t, "aot", ib.Mode)
	assert.Equal(t, []string{"movi r1, 5", "st r1, [r2+0]"}, ib.Original)
	assert.Equal(t, 4, ib.CriticalPath)
	require.Len(t, ib.Edges, 1)
	assert.Equal(t, InspectEdge{From: 0, To: 1, Kind: "true", Latency: 1}, ib.Edges[0])
}

func TestInspectErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"interpreter mode", []string{"inspect", tierupWorkload, "--mode", "interpreter"}, "invalid mode"},
		{"unknown mode", []string{"inspect", tierupWorkload, "--mode", "fast"}, "invalid mode"},
		{"bad address", []string{"inspect", tierupWorkload, "--block", "zz"}, "invalid block address"},
		{"unknown block", []string{"inspect", tierupWorkload, "--block", "0x9999"}, "no block at 0x9999"},
		{"missing workload", []string{"inspect", "missing.yaml"}, "failed to load workload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
