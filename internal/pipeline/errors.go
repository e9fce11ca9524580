package pipeline

import (
	"errors"
	"fmt"
)

// ErrApprovalDeclined is returned when the operator answers no at a
// confirmation gate. The run aborts without side effects.
var ErrApprovalDeclined = errors.New("approval declined")

// ErrAlreadyProvisioned is returned when a deploy targets a (repo, revision,
// provider, region) that already has a run at stage PROVISIONED or later and
// no force flag was given.
var ErrAlreadyProvisioned = errors.New("an active run already holds provisioned resources for this target")

// RemoteExecError means the bootstrap script exited non-zero on the host.
// The provisioned resources stay running for inspection; cleanup is an
// explicit destroy.
type RemoteExecError struct {
	Host       string
	ExitStatus int
}

func (e *RemoteExecError) Error() string {
	return fmt.Sprintf("bootstrap on %s exited with status %d", e.Host, e.ExitStatus)
}
