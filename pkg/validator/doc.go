/*
Package validator provides struct-tag validation for wire payloads, with a
custom rule for the workflow status enum (init/scheduled/executing/
successful/failed/unknown) used throughout the command board and operation
handlers.

Usage:

	import "github.com/thin-edge/tedge-core/pkg/validator"

	v := validator.New()

	// Validate struct
	err := v.ValidateStruct(commandPayload)

	// Validate single value
	err := v.ValidateVar(status, "tedge_status")
*/
package validator
