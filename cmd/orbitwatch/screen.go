package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitwatch/orbitwatch/internal/conjunction"
)

var (
	screenSatelliteID string
	screenPlan        bool
	screenTimeout     time.Duration
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Run one screening pass and print the findings",
	Long:  "screen runs a single on-demand conjunction screening pass (optionally for one satellite), prints the findings as JSON, and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), screenTimeout)
		defer cancel()

		var found []conjunction.Conjunction
		if screenSatelliteID != "" {
			found, err = p.detector.ScreenSatellite(ctx, screenSatelliteID)
			if err != nil {
				return fmt.Errorf("screening %s: %w", screenSatelliteID, err)
			}
		} else {
			report, err := p.detector.DetectNow(ctx)
			if err != nil {
				return fmt.Errorf("screening pass: %w", err)
			}
			p.logger.Info("screening pass finished",
				"new", report.NewCount,
				"updated", report.Updated,
				"skipped", report.Skipped,
			)
			found = p.conjunctions.List()
		}

		out := os.Stdout
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		for _, conj := range found {
			if err := enc.Encode(conj); err != nil {
				return err
			}
			if !screenPlan {
				continue
			}

			coas, err := p.planner.GenerateCOAs(ctx, conj.ID)
			if err != nil {
				p.logger.Warn("planning failed", "conjunction_id", conj.ID, "error", err)
				continue
			}
			if err := enc.Encode(coas); err != nil {
				return err
			}
		}

		if len(found) == 0 {
			fmt.Fprintln(out, "no conjunctions found")
		}
		return nil
	},
}

func init() {
	screenCmd.Flags().StringVar(&screenSatelliteID, "satellite", "", "Screen a single protected satellite by id")
	screenCmd.Flags().BoolVar(&screenPlan, "plan", false, "Generate candidate courses of action for each finding")
	screenCmd.Flags().DurationVar(&screenTimeout, "timeout", 5*time.Minute, "Overall pass timeout")
}
