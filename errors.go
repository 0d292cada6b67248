package dbpool

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Pull after the DatabasePool has been closed.
var ErrPoolClosed = errors.New("dbpool: database pool is closed")

// SetupStep identifies the stage of backend construction or Pull's
// creation-on-miss path that produced a SetupError.
type SetupStep string

const (
	// StepConfig covers configuration validation.
	StepConfig SetupStep = "validate config"

	// StepConnect covers reaching the DBMS with the privileged credentials.
	StepConnect SetupStep = "connect"

	// StepCreateDatabase covers the CREATE DATABASE statement and the
	// grants that accompany it.
	StepCreateDatabase SetupStep = "create database"

	// StepCreateEntities covers the user-supplied entity creation callback.
	StepCreateEntities SetupStep = "create entities"

	// StepBuildRestrictedPool covers the restricted pool factory.
	StepBuildRestrictedPool SetupStep = "build restricted pool"
)

// SetupError wraps a failure on the setup path with the step that produced
// it. Errors from the backend and the driver are reachable through Unwrap.
type SetupError struct {
	Step SetupStep
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("dbpool: %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
