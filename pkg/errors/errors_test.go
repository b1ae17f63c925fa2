// Error taxonomy tests
//
// Copyright (C) 2026  tpRF Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	err := ConfigOptionError("experiment", "baseline_temp")
	msg := err.Error()
	if !strings.Contains(msg, "CONFIG_OPTION") {
		t.Errorf("expected code in message, got: %s", msg)
	}
	if !strings.Contains(msg, "baseline_temp") {
		t.Errorf("expected option in message, got: %s", msg)
	}
}

func TestHostErrorUnwrap(t *testing.T) {
	base := fmt.Errorf("permission denied")
	err := DeviceOpenError("/dev/ttyUSB0", base)

	if err.Unwrap() != base {
		t.Errorf("expected Unwrap to return base error, got: %v", err.Unwrap())
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("expected wrapped message to surface, got: %s", err.Error())
	}
}

func TestMaskUnknownError(t *testing.T) {
	err := MaskUnknownError("P9_X", []string{"P1_W", "P1_C", "TGI_1"})
	msg := err.Error()
	if !strings.Contains(msg, "P9_X") {
		t.Errorf("expected unknown name in message, got: %s", msg)
	}
	if !strings.Contains(msg, "TGI_1") {
		t.Errorf("expected known masks listed, got: %s", msg)
	}
	if !Is(err, ErrMaskUnknown) {
		t.Error("expected ErrMaskUnknown code")
	}
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		config    bool
		device    bool
		cancelled bool
	}{
		{"config section", ConfigSectionError("experiment"), true, false, false},
		{"config type", ConfigTypeError("waveform", "update_hz", "x", "int", fmt.Errorf("bad")), true, false, false},
		{"device init", DeviceInitError("set_durations", fmt.Errorf("timeout")), false, true, false},
		{"device readback", DeviceReadbackError(fmt.Errorf("eof")), false, true, false},
		{"device close", DeviceCloseError(fmt.Errorf("ioctl")), false, true, false},
		{"cancelled", Cancelled("stimulation"), false, false, true},
		{"plain error", fmt.Errorf("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfig(tt.err); got != tt.config {
				t.Errorf("IsConfig = %v, expected %v", got, tt.config)
			}
			if got := IsDevice(tt.err); got != tt.device {
				t.Errorf("IsDevice = %v, expected %v", got, tt.device)
			}
			if got := IsCancelled(tt.err); got != tt.cancelled {
				t.Errorf("IsCancelled = %v, expected %v", got, tt.cancelled)
			}
		})
	}
}

func TestCancelledStage(t *testing.T) {
	err := Cancelled("trigger wait")
	if !strings.Contains(err.Error(), "trigger wait") {
		t.Errorf("expected stage in message, got: %s", err.Error())
	}
}

func TestSetContextChaining(t *testing.T) {
	err := OutputError("/data/sub-01/run.tsv", fmt.Errorf("disk full")).
		SetContext("run", 2)

	if err.Context["path"] != "/data/sub-01/run.tsv" {
		t.Errorf("expected path context, got: %v", err.Context)
	}
	if err.Context["run"] != 2 {
		t.Errorf("expected run context, got: %v", err.Context)
	}
}

func TestRecoverPanic(t *testing.T) {
	var recovered *HostError

	func() {
		defer func() {
			recovered = RecoverPanic()
		}()
		panic("thermode gone")
	}()

	if recovered == nil {
		t.Fatal("expected recovered error")
	}
	if !Is(recovered, ErrRuntime) {
		t.Errorf("expected ErrRuntime, got code %s", recovered.Code)
	}
	if !strings.Contains(recovered.Message, "thermode gone") {
		t.Errorf("expected panic text in message, got: %s", recovered.Message)
	}
}

func TestRecoverPanicNoPanic(t *testing.T) {
	var recovered *HostError

	func() {
		defer func() {
			recovered = RecoverPanic()
		}()
	}()

	if recovered != nil {
		t.Errorf("expected nil without panic, got: %v", recovered)
	}
}
