// Unified error handling for the tpRF stimulation host
//
// Copyright (C) 2026  tpRF Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Mask registry errors
	ErrMaskUnknown ErrorCode = "MASK_UNKNOWN"

	// Thermode device errors
	ErrDeviceOpen     ErrorCode = "DEVICE_OPEN"
	ErrDeviceInit     ErrorCode = "DEVICE_INIT"
	ErrDeviceProtocol ErrorCode = "DEVICE_PROTOCOL"
	ErrDeviceReadback ErrorCode = "DEVICE_READBACK"
	ErrDeviceClose    ErrorCode = "DEVICE_CLOSE"

	// Session errors
	ErrCancelled ErrorCode = "CANCELLED"
	ErrTrigger   ErrorCode = "TRIGGER"
	ErrOutput    ErrorCode = "OUTPUT"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the line number in the source file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	ctx := e.Section
	if e.Option != "" {
		ctx = e.Option
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Code, ctx, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, ctx, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *HostError) SetFile(file string) *HostError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Mask errors

// MaskUnknownError creates an error for a mask name with no registry entry.
// Raised at block-setup time, before any hardware interaction.
func MaskUnknownError(name string, known []string) *HostError {
	return New(ErrMaskUnknown, fmt.Sprintf("unknown mask '%s' (known masks: %s)", name, strings.Join(known, ", "))).
		SetSection(name)
}

// Device errors

// DeviceOpenError creates an error for serial port open failure
func DeviceOpenError(port string, err error) *HostError {
	return Wrap(err, ErrDeviceOpen, fmt.Sprintf("failed to open thermode on %s", port)).
		SetSection(port)
}

// DeviceInitError creates an error for a failed step of the init sequence
func DeviceInitError(step string, err error) *HostError {
	return Wrap(err, ErrDeviceInit, fmt.Sprintf("thermode init step '%s' failed", step)).
		SetSection(step)
}

// DeviceProtocolError creates an error for a malformed device reply
func DeviceProtocolError(reply string, reason string) *HostError {
	return New(ErrDeviceProtocol, fmt.Sprintf("bad device reply %q: %s", reply, reason))
}

// DeviceReadbackError creates an error for a failed temperature readback.
// This is a transport failure; NaN readings are not errors and are handled
// by retry inside the controller.
func DeviceReadbackError(err error) *HostError {
	return Wrap(err, ErrDeviceReadback, "temperature readback failed")
}

// DeviceCloseError creates an error for hardware shutdown failure
func DeviceCloseError(err error) *HostError {
	return Wrap(err, ErrDeviceClose, "thermode close failed")
}

// Session errors

// Cancelled creates the first-class cancellation signal. The runner and the
// session both treat this as control flow: the current block stops but full
// cleanup still runs.
func Cancelled(stage string) *HostError {
	return New(ErrCancelled, fmt.Sprintf("cancelled during %s", stage)).
		SetSection(stage)
}

// TriggerError creates an error for scanner trigger wait failure
func TriggerError(reason string) *HostError {
	return New(ErrTrigger, fmt.Sprintf("trigger wait failed: %s", reason))
}

// OutputError creates an error for output file creation or write failure
func OutputError(path string, err error) *HostError {
	return Wrap(err, ErrOutput, fmt.Sprintf("output file %s", path)).
		SetContext("path", path)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// Helper functions for adding context

// WithConfigPath adds config file path to error context
func WithConfigPath(err *HostError, path string) *HostError {
	if err == nil {
		return nil
	}
	err.SetContext("config_path", path)
	return err
}

// WithLineNumber adds line number to error context
func WithLineNumber(err *HostError, line int) *HostError {
	if err == nil {
		return nil
	}
	err.SetLine(line)
	return err
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsDevice checks if error is a thermode device error
func IsDevice(err error) bool {
	return Is(err, ErrDeviceOpen) ||
		Is(err, ErrDeviceInit) ||
		Is(err, ErrDeviceProtocol) ||
		Is(err, ErrDeviceReadback) ||
		Is(err, ErrDeviceClose)
}

// IsCancelled checks if error is the user cancellation signal
func IsCancelled(err error) bool {
	return Is(err, ErrCancelled)
}
