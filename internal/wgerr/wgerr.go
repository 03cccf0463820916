// Package wgerr defines the error-kind taxonomy shared across wg-ondemand's
// packages. Errors are wrapped with fmt.Errorf("%w") so callers can use
// errors.Is against the sentinels below.
package wgerr

import "errors"

var (
	// ErrConfig marks malformed configuration input (bad TOML, missing file).
	ErrConfig = errors.New("config error")

	// ErrValidation marks a value that parsed but violates a validation rule.
	ErrValidation = errors.New("validation error")

	// ErrIO marks a command-spawn or filesystem failure.
	ErrIO = errors.New("io error")

	// ErrKernel marks a filter load/attach/detach or netlink query failure.
	ErrKernel = errors.New("kernel error")

	// ErrDbus marks a Wi-Fi monitor D-Bus failure.
	ErrDbus = errors.New("dbus error")

	// ErrParse marks a CIDR or transfer-line parse failure.
	ErrParse = errors.New("parse error")
)
