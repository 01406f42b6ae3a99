package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/narroapp/narro/internal/audiocache"
	"github.com/narroapp/narro/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the audio cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and entry counts",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		layout := audiocache.NewLayout(cfg.CacheDir)

		chunkFiles, chunkBytes := dirStats(layout.ChunkDir())
		chapterFiles, chapterBytes := dirStats(layout.ChapterDir())

		fmt.Println(keyword("Cache"), cfg.CacheDir)
		fmt.Printf("  chunks:   %d files, %s\n", chunkFiles, humanize.Bytes(chunkBytes))
		fmt.Printf("  chapters: %d files, %s\n", chapterFiles, humanize.Bytes(chapterBytes))
		fmt.Printf("  total:    %s\n", humanize.Bytes(chunkBytes+chapterBytes))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached audio",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		layout := audiocache.NewLayout(cfg.CacheDir)

		_, freedChunks := dirStats(layout.ChunkDir())
		_, freedChapters := dirStats(layout.ChapterDir())

		for _, dir := range []string{layout.TTSDir(), layout.ChapterDir()} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("clear %s: %w", dir, err)
			}
		}

		fmt.Println("Freed", humanize.Bytes(freedChunks+freedChapters))
		return nil
	},
}

// dirStats walks dir counting regular files and their total size. A
// missing directory is an empty cache, not an error.
func dirStats(dir string) (files int, bytes uint64) {
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		files++
		bytes += uint64(info.Size())
		return nil
	})
	return files, bytes
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
