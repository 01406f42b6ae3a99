// Package doctor checks that the tools and paths the pipeline depends on
// are actually usable before a long run starts.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/narroapp/narro/internal/config"
)

// Status grades one check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one environment check result.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Run performs every environment check against the configuration.
func Run(cfg config.Config) []Check {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	piper := cfg.Piper.Binary
	if piper == "" {
		piper = "piper"
	}

	checks := []Check{
		binaryCheck("ffmpeg", ffmpeg),
		binaryCheck("ffprobe", "ffprobe"),
		binaryCheck("piper", piper),
		modelCheck(cfg.Piper.Model),
		cacheCheck(cfg.CacheDir),
	}
	return checks
}

// Healthy reports whether no check failed. Warnings do not block a run.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

func binaryCheck(name, binary string) Check {
	path, err := exec.LookPath(binary)
	if err != nil {
		return Check{Name: name, Status: StatusFail,
			Detail: fmt.Sprintf("%s not found on PATH", binary)}
	}
	return Check{Name: name, Status: StatusOK, Detail: path}
}

func modelCheck(model string) Check {
	if model == "" {
		return Check{Name: "piper model", Status: StatusWarn,
			Detail: "not configured (set piper.model or NARRO_PIPER_MODEL)"}
	}
	f, err := os.Open(model)
	if err != nil {
		return Check{Name: "piper model", Status: StatusFail, Detail: err.Error()}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return Check{Name: "piper model", Status: StatusFail,
			Detail: fmt.Sprintf("%s is empty or unreadable", model)}
	}
	return Check{Name: "piper model", Status: StatusOK, Detail: model}
}

func cacheCheck(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "cache dir", Status: StatusFail, Detail: err.Error()}
	}

	probe := filepath.Join(dir, ".narro_write_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return Check{Name: "cache dir", Status: StatusFail,
			Detail: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return Check{Name: "cache dir", Status: StatusOK, Detail: dir}
}
