package calibration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ProcessRunner delegates calibration to an external command. The request
// is written to the command's stdin as JSON; the command must write
// <model_dir>/calibration.db and exit zero.
type ProcessRunner struct {
	Command string
	Args    []string
}

// RunCalibration runs the command and waits for it. Cancelling ctx kills
// the process.
func (r *ProcessRunner) RunCalibration(ctx context.Context, req Request) error {
	if r.Command == "" {
		return fmt.Errorf("calibration command is not set")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("calibration command interrupted: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("calibration command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("calibration command failed: %w", err)
	}
	return nil
}
