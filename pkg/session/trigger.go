package session

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
)

var trigLogger = log.GetLogger("session")

// TriggerWaiter blocks until the scanner trigger arrives. The scanner's
// trigger box types the trigger key on the console; in emulation mode the
// operator presses ENTER instead. Reading happens in a goroutine so a
// cancelled context always unblocks the wait.
type TriggerWaiter struct {
	in      io.Reader
	key     byte
	emulate bool
}

// NewTriggerWaiter builds a waiter from the MR configuration, reading from
// stdin.
func NewTriggerWaiter(mr config.MRConfig) *TriggerWaiter {
	return newTriggerWaiter(os.Stdin, mr)
}

func newTriggerWaiter(in io.Reader, mr config.MRConfig) *TriggerWaiter {
	key := byte('5')
	if mr.TriggerKey != "" {
		key = mr.TriggerKey[0]
	}
	return &TriggerWaiter{in: in, key: key, emulate: mr.EmulateTrigger}
}

// Wait blocks until the trigger key arrives (or any line in emulation
// mode). It returns ErrorCancelled if the context ends first and
// ErrorTrigger if the input closes without a trigger.
func (t *TriggerWaiter) Wait(ctx context.Context) error {
	if t.emulate {
		trigLogger.Info("emulation mode: press ENTER to start")
	} else {
		trigLogger.Info("waiting for scanner trigger (%q)", string(t.key))
	}

	done := make(chan error, 1)
	go func() { done <- t.read() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		trigLogger.Info("trigger received")
		return nil
	case <-ctx.Done():
		return errors.Cancelled("trigger wait")
	}
}

func (t *TriggerWaiter) read() error {
	r := bufio.NewReader(t.in)
	if t.emulate {
		if _, err := r.ReadString('\n'); err != nil {
			return errors.TriggerError("input closed before operator start")
		}
		return nil
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return errors.TriggerError("input closed before scanner trigger")
		}
		if b == t.key {
			return nil
		}
		if !strings.ContainsRune(" \r\n\t", rune(b)) {
			trigLogger.Debug("ignoring non-trigger input %q", string(b))
		}
	}
}
