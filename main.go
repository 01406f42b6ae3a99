// Package main provides the entry point for the narro CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/narroapp/narro/internal/book"
	"github.com/narroapp/narro/internal/config"
	"github.com/narroapp/narro/internal/tts"
	"github.com/narroapp/narro/internal/tts/engines"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	engineName string
	voice      string
	speed      float64
	workers    int
	outputDir  string

	rootCmd = &cobra.Command{
		Use:   "narro [EPUB|DIR]...",
		Short: "Turn ebooks into chaptered M4B audiobooks",
		Long: paragraph(
			fmt.Sprintf("\nTurn EPUB, Markdown, and plain-text books into %s, chapter by chapter.", keyword("M4B audiobooks")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.MinimumNArgs(1),
		RunE:          execute,
	}
)

// resolveConfig loads the configuration and layers the command-line flags
// on top. Flags win over config file and environment.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("engine") {
		cfg.Engine = engineName
	}
	if cmd.Flags().Changed("voice") {
		cfg.Voice = voice
	}
	if cmd.Flags().Changed("speed") {
		cfg.Speed = speed
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = outputDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// engineFactory builds the per-worker engine constructor for the selected
// backend.
func engineFactory(cfg config.Config) (book.EngineFactory, error) {
	switch cfg.Engine {
	case "piper":
		return func() (tts.Engine, error) {
			return engines.NewPiper(engines.PiperConfig{
				BinaryPath:      cfg.Piper.Binary,
				ModelPath:       cfg.Piper.Model,
				ConfigPath:      cfg.Piper.Config,
				DefaultVoice:    cfg.Voice,
				DefaultLangCode: cfg.LangCode,
				SampleRate:      cfg.SampleRate,
				Channels:        cfg.Channels,
				Logger:          log.Default(),
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (supported: piper)", cfg.Engine)
	}
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	factory, err := engineFactory(cfg)
	if err != nil {
		return err
	}

	inputs, err := book.ResolveInputs(args)
	if err != nil {
		return err
	}

	pipeline, err := book.NewPipeline(book.PipelineOptions{
		CacheRoot:     cfg.CacheDir,
		OutputDir:     cfg.OutputDir,
		Workers:       cfg.Workers,
		SilenceMS:     cfg.SilenceMS,
		Normalize:     cfg.Normalize,
		Settings:      cfg.SynthesisSettings(),
		Voice:         cfg.Voice,
		EngineFactory: factory,
		Loudness:      cfg.Loudness(),
		FFmpegPath:    cfg.FFmpegPath,
		Logger:        log.Default(),
	})
	if err != nil {
		return err
	}

	results, err := pipeline.Run(cmd.Context(), inputs)
	printResults(results)
	return err
}

func printResults(results []book.BookResult) {
	for _, r := range results {
		switch r.Status {
		case book.BookPackaged:
			fmt.Printf("%s %s → %s (%s)\n",
				okStyle.Render("✓"), keyword(r.Title), r.OutputPath, outputSize(r.OutputPath))
		case book.BookSkipped:
			fmt.Printf("%s %s already packaged: %s\n",
				warnStyle.Render("≡"), keyword(r.Title), r.OutputPath)
		default:
			fmt.Printf("%s %s: %v\n", failStyle.Render("✗"), r.Input, r.Err)
		}

		for _, ch := range r.Chapters {
			if ch.Status == book.ChapterOK {
				continue
			}
			fmt.Printf("    chapter %d (%s): %s\n", ch.Index, ch.Title, ch.Status)
		}
	}
}

func outputSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	// Styled output only makes sense on a terminal.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		keywordStyle = keywordStyle.UnsetForeground().UnsetBold()
		okStyle = okStyle.UnsetForeground()
		warnStyle = warnStyle.UnsetForeground()
		failStyle = failStyle.UnsetForeground()
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&engineName, "engine", "e", "piper", "synthesis engine")
	rootCmd.Flags().StringVar(&voice, "voice", "", "voice or speaker id")
	rootCmd.Flags().Float64Var(&speed, "speed", 1.0, "playback speed (0.1 to 3.0)")
	rootCmd.Flags().IntVarP(&workers, "workers", "j", 0, "parallel chapter workers")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for .m4b files")

	_ = viper.BindPFlag("engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("output_dir", rootCmd.Flags().Lookup("output"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, cacheCmd, doctorCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "narro")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "narro")}, dirs...)
	}

	if c := os.Getenv("NARRO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("narro")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("narro")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "narro.yml")
}
