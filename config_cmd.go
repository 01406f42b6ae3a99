package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# synthesis engine (piper)
engine: "piper"
# voice or speaker id for multi-speaker models
voice: ""
# playback speed (0.1 to 3.0)
speed: 1.0
# parallel chapter workers
workers: 2
# chunk cache and work directory (empty for the user cache dir)
cache_dir: ""
# destination for .m4b files (empty for the current directory)
output_dir: ""

segment:
  # preferred maximum characters per synthesized chunk
  max_chars: 1000
  # short segments are extended toward this minimum
  min_chars: 200
  # absolute per-chunk bound
  hard_max_chars: 1250

retry:
  # retries per chunk on transient synthesis failures
  max_retries: 2
  backoff_base: "500ms"
  backoff_jitter: 0.1

audio:
  sample_rate: 22050
  channels: 1
  # pause inserted between chunks
  silence_ms: 250
  # two-pass EBU R128 loudness normalization (requires ffmpeg)
  normalize: true
  lufs: -23
  lra: 7
  true_peak: -1

package:
  # AAC bitrate for the .m4b
  bitrate: "128k"

ffmpeg:
  # path to ffmpeg (empty to use PATH)
  path: ""

piper:
  binary: "piper"
  # model: "/path/to/voice.onnx"
  model: ""
  # config: "/path/to/voice.onnx.json"
  config: ""
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the narro config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narro config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narro config\nnarro config --config path/to/narro.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narro", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
