package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONFieldNames(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC),
		RunID:     "session-9f8e7d6c",
		Process:   "node",
		EventType: EventHookBypass,
		Summary:   "open bypassed: relative_path",
	}
	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Contains(t, m, "ts")
	assert.Contains(t, m, "run_id")
	assert.Contains(t, m, "process")
	assert.Contains(t, m, "event_type")
	assert.Contains(t, m, "summary")
	assert.NotContains(t, m, "symbol")
	assert.NotContains(t, m, "tags")
	assert.NotContains(t, m, "data")
}

func TestEvent_Payloads(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{
			name: "bypass",
			data: &HookBypassData{Symbol: "open", Reason: "ignored_file", Detail: `ignored_file("/proc/self")`},
			want: `{"symbol":"open","reason":"ignored_file","detail":"ignored_file(\"/proc/self\")"}`,
		},
		{
			name: "error",
			data: &HookErrorData{Symbol: "connect", Error: "connection refused", Errno: 111},
			want: `{"symbol":"connect","error":"connection refused","errno":111}`,
		},
		{
			name: "resolved",
			data: &OriginalResolvedData{Symbol: "read"},
			want: `{"symbol":"read"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.data)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}
