package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/narroapp/narro/internal/config"
	"github.com/narroapp/narro/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that ffmpeg, piper, and the cache are usable",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		checks := doctor.Run(cfg)
		for _, c := range checks {
			var mark string
			switch c.Status {
			case doctor.StatusOK:
				mark = okStyle.Render("✓")
			case doctor.StatusWarn:
				mark = warnStyle.Render("!")
			default:
				mark = failStyle.Render("✗")
			}
			fmt.Printf("%s %-12s %s\n", mark, c.Name, c.Detail)
		}

		if !doctor.Healthy(checks) {
			return errors.New("environment is not ready; fix the failed checks above")
		}
		return nil
	},
}
