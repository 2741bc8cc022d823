// Package ids generates the identifiers used across workflow bookkeeping.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// WorkflowID identifies one pipeline run. IDs are lexicographically sortable
// by creation time.
type WorkflowID string

const workflowPrefix = "wf-"

func NewWorkflowID() WorkflowID {
	return WorkflowID(workflowPrefix + strings.ToLower(ulid.Make().String()))
}

func (id WorkflowID) String() string {
	return string(id)
}

// Valid reports whether id carries the workflow prefix and a parseable ulid.
func (id WorkflowID) Valid() bool {
	raw, ok := strings.CutPrefix(string(id), workflowPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(raw))
	return err == nil
}
