package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/crimewatch/crimewatch/internal/analysis"
	"github.com/crimewatch/crimewatch/internal/c3d"
	"github.com/crimewatch/crimewatch/internal/config"
	"github.com/crimewatch/crimewatch/internal/dataset"
	"github.com/crimewatch/crimewatch/internal/detect"
	"github.com/crimewatch/crimewatch/internal/labels"
	"github.com/crimewatch/crimewatch/internal/logging"
)

func newPredictCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "predict <video>",
		Short: "Classify one video file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())

			predictor, err := buildPredictor(cfg, logger)
			if err != nil {
				return err
			}
			defer predictor.Close()

			out := predictor.Predict(cmd.Context(), args[0])
			out.Description = analysis.WithLocation(out.Description, location)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "Location appended to the description")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "evaluate <dataset-root>",
		Short: "Predict every video under <root>/<Class>/ and report accuracy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())

			predictor, err := buildPredictor(cfg, logger)
			if err != nil {
				return err
			}
			defer predictor.Close()

			catalog := predictor.Catalog()
			samples, err := dataset.Scan(args[0], catalog)
			if err != nil {
				return err
			}
			if limit > 0 && len(samples) > limit {
				samples = samples[:limit]
			}
			if len(samples) == 0 {
				return fmt.Errorf("no samples found under %s", args[0])
			}

			bar := progressbar.NewOptions(len(samples),
				progressbar.OptionSetDescription("evaluating"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)

			confusion := dataset.NewConfusion(catalog.Classes())
			degraded := 0
			start := time.Now()
			for _, s := range samples {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				out := predictor.Predict(cmd.Context(), s.Path)
				if out.Status == detect.StatusDegraded {
					degraded++
				}
				confusion.Add(s.Label, catalog.Index(out.CrimeType))
				bar.Add(1)
			}
			bar.Finish()

			writeConfusion(cmd.OutOrStdout(), confusion)
			fmt.Fprintf(cmd.OutOrStdout(), "\nsamples: %d  accuracy: %.4f  degraded: %d  model: %s  elapsed: %s\n",
				confusion.Total(), confusion.Accuracy(), degraded, predictor.ModelState(),
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Evaluate at most this many samples (0 for all)")
	return cmd
}

func writeConfusion(w io.Writer, c *dataset.Confusion) {
	classes := c.Classes()

	table := tablewriter.NewWriter(w)
	header := append([]string{"actual \\ predicted"}, classes...)
	table.SetHeader(append(header, "recall"))

	for i, actual := range classes {
		row := []string{actual}
		total := 0
		for j := range classes {
			n := c.Count(i, j)
			total += n
			row = append(row, strconv.Itoa(n))
		}
		recall := "-"
		if total > 0 {
			recall = fmt.Sprintf("%.2f", float64(c.Count(i, i))/float64(total))
		}
		table.Append(append(row, recall))
	}
	table.Render()
}

func newInitWeightsCmd() *cobra.Command {
	var (
		seed  uint64
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init-weights [out]",
		Short: "Write a randomly initialised weights file",
		Long: "Write a weights file with seeded random parameters. Without an argument the " +
			"file goes to the configured weights path.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cfg.WeightsPath()
			if len(args) == 1 {
				out = args[0]
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			catalog, err := labels.Load(cfg.LabelsFile())
			if err != nil {
				return fmt.Errorf("failed to load labels: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return fmt.Errorf("failed to create weights dir: %w", err)
			}

			net := c3d.NewDefault(catalog.Len())
			net.Init(seed)
			meta := map[string]string{
				"init":    "uniform",
				"seed":    strconv.FormatUint(seed, 10),
				"classes": fmt.Sprint(catalog.Classes()),
				"version": config.Version,
			}
			if err := net.SaveFile(out, meta); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tensors, seed %d)\n", out, len(net.ParamNames()), seed)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 42, "Parameter initialisation seed")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
