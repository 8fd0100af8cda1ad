package biz

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/errors"
)

// ErrInvalidStep reports a structural fault: the workflow reached a step
// outside the defined step set. This is never a clinical outcome and must
// halt processing.
func ErrInvalidStep(step string) error {
	return errors.New(
		500,
		"WORKFLOW_STRUCTURAL_FAULT",
		fmt.Sprintf("workflow entered undefined step %q", step),
	)
}

// ErrServiceDegraded reports that a protected dependency is unavailable
// (breaker open). The caller-facing message is deliberately generic.
func ErrServiceDegraded(dependency string) error {
	return errors.New(
		503,
		"SERVICE_DEGRADED",
		fmt.Sprintf("service degraded (%s), please retry shortly", dependency),
	)
}

// ErrBadRequest reports invalid caller input on the workflow trigger.
func ErrBadRequest(msg string) error {
	return errors.New(400, "INVALID_REQUEST", msg)
}

// ErrNotFound reports a missing conversation on the status endpoint.
func ErrNotFound(msg string) error {
	return errors.New(404, "NOT_FOUND", msg)
}
