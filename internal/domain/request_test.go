package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInputUnmarshalSnakeCase(t *testing.T) {
	var in RunInput
	err := json.Unmarshal([]byte(`{"thread_id":"t1","run_id":"r1","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":null}]}`), &in)
	require.NoError(t, err)

	assert.Equal(t, "t1", in.ThreadID)
	assert.Equal(t, "r1", in.RunID)
	require.Len(t, in.Messages, 2)
	assert.Equal(t, "hi", in.Messages[0].Text())
	assert.Equal(t, "", in.Messages[1].Text())
}

func TestRunInputUnmarshalCamelCase(t *testing.T) {
	var in RunInput
	body := `{"threadId":"t2","runId":"r2","state":{},"tools":[],"context":[],"forwardedProps":{},"messages":[{"id":"m1","role":"system"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &in))

	assert.Equal(t, "t2", in.ThreadID)
	assert.Equal(t, "r2", in.RunID)
	require.Len(t, in.Messages, 1)
	assert.Equal(t, "m1", in.Messages[0].ID)
	assert.Equal(t, RoleSystem, in.Messages[0].Role)
}

func TestRunInputUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		role bool
	}{
		{name: "missing thread", body: `{"run_id":"r","messages":[]}`},
		{name: "missing run", body: `{"thread_id":"t","messages":[]}`},
		{name: "missing messages", body: `{"thread_id":"t","run_id":"r"}`},
		{name: "wrong type", body: `{"thread_id":"t","run_id":"r","messages":"hi"}`},
		{name: "bad role", body: `{"thread_id":"t","run_id":"r","messages":[{"role":"robot","content":"x"}]}`, role: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in RunInput
			err := json.Unmarshal([]byte(tt.body), &in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			if tt.role {
				assert.ErrorIs(t, err, ErrInvalidRole)
			}
		})
	}
}

func TestRunInputUnmarshalSyntaxError(t *testing.T) {
	var in RunInput
	assert.Error(t, json.Unmarshal([]byte(`{`), &in))
}

func TestRunInputEmptyMessagesAllowed(t *testing.T) {
	var in RunInput
	require.NoError(t, json.Unmarshal([]byte(`{"thread_id":"t","run_id":"r","messages":[]}`), &in))
	assert.Empty(t, in.Messages)
}

func TestRunInputEmptyIdentifiersAllowed(t *testing.T) {
	var in RunInput
	require.NoError(t, json.Unmarshal([]byte(`{"threadId":"","runId":"","messages":[]}`), &in))
	assert.Equal(t, "", in.ThreadID)
	assert.Equal(t, "", in.RunID)

	require.NoError(t, json.Unmarshal([]byte(`{"thread_id":"","threadId":"t9","run_id":"r9","messages":[]}`), &in))
	assert.Equal(t, "t9", in.ThreadID)
	assert.Equal(t, "r9", in.RunID)
}
