package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkflowID(t *testing.T) {
	a := NewWorkflowID()
	b := NewWorkflowID()

	require.NotEqual(t, a, b)
	require.True(t, a.Valid())
	require.True(t, b.Valid())
}

func TestWorkflowIDValid(t *testing.T) {
	tests := []struct {
		name  string
		id    WorkflowID
		valid bool
	}{
		{name: "generated", id: NewWorkflowID(), valid: true},
		{name: "missing prefix", id: "01hqv3x8d9k7m2p4r6t8w0y2a4", valid: false},
		{name: "prefix only", id: "wf-", valid: false},
		{name: "garbage", id: "wf-not-a-ulid", valid: false},
		{name: "empty", id: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.valid, tt.id.Valid())
		})
	}
}
