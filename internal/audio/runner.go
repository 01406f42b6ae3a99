package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrFFmpegNotFound marks a missing ffmpeg binary, distinct from an
// ffmpeg run that started and failed.
var ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")

// FFmpegRunner executes ffmpeg with a per-command timeout. The zero value
// is not usable; construct with NewFFmpegRunner.
type FFmpegRunner struct {
	binary  string
	timeout time.Duration
}

func NewFFmpegRunner(binary string, timeout time.Duration) *FFmpegRunner {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRunner{binary: binary, timeout: timeout}
}

// Run executes one ffmpeg command and returns its stderr, where ffmpeg
// writes both diagnostics and the loudnorm analysis output.
func (r *FFmpegRunner) Run(ctx context.Context, args ...string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stderr.String(), fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		return stderr.String(), fmt.Errorf("ffmpeg %v: %w: %s", args, err, tail(stderr.String(), 500))
	}
	return stderr.String(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
