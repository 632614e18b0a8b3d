package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/codebook-trainer/codebook"
	cfg "github.com/maastricht-university/codebook-trainer/config"
	"github.com/maastricht-university/codebook-trainer/orchestrator"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "codebook-trainer",
	Short:         "Train weighted voice conversion codebooks from parallel corpora",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a codebook and pitch mapping",
	Long: `Train a codebook from a source and a target folder of identically named
recordings. Each recording needs the analyser's sidecar files next to it
(<name>.feat and optionally <name>.lab).

Settings are layered: defaults, preset, config file, CODEBOOK_* environment
variables, flags.

Example:
  codebook-trainer train --preset neutralF-angryF \
      --source-folder data/neutral --target-folder data/angry --output-dir out`,
	RunE: runTrain,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in presets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range cfg.Presets() {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <codebook>",
	Short: "Print the header of a trained codebook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cb, err := codebook.ReadFile(args[0])
		if err != nil {
			return err
		}
		h := cb.Header
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mode:      %s\n", h.Mode)
		fmt.Fprintf(out, "styles:    %s -> %s\n", h.SourceTag, h.TargetTag)
		fmt.Fprintf(out, "lsf order: %d\n", h.LsfOrder)
		fmt.Fprintf(out, "items:     %d\n", h.NumItems)
		fmt.Fprintf(out, "mappings:  %d\n", h.NumMappings)
		fmt.Fprintf(out, "entries:   %d\n", len(cb.Entries))
		for _, s := range h.Stages {
			fmt.Fprintf(out, "stage %-8s active=%t input=%d eliminated=%d\n", s.Stage, s.Active, s.Input, s.Eliminated)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/$CONFIG_ENV/config.yaml or codebook.yaml)")

	f := trainCmd.Flags()
	f.String("preset", "", "named preset, see 'presets'")
	f.String("log-level", "info", "log level")
	f.String("source-folder", "", "folder of source style recordings")
	f.String("target-folder", "", "folder of target style recordings")
	f.String("extension", ".wav", "recording file extension")
	f.String("pairing", "basename", "pairing rule: basename, casefold or order")
	f.String("output-dir", ".", "artifact directory")
	f.String("source-tag", "", "source style tag")
	f.String("target-tag", "", "target style tag")
	f.String("suffix", "", "artifact name suffix")
	f.String("mode", "per-frame", "codebook mode")
	f.Uint64("seed", 1, "clustering seed")
	f.Int("workers", 0, "parallel analysis workers")
	f.Bool("forced-analysis", false, "ignore cached analyses")
	f.String("cache-dir", "", "feature cache directory (empty keeps it in memory)")

	rootCmd.AddCommand(trainCmd, presetsCmd, inspectCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	v, err := cfg.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	conf, err := cfg.Load(configPath, v)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(conf.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.WithFields(logrus.Fields{
		"preset": conf.Preset,
		"source": conf.Corpus.SourceFolder,
		"target": conf.Corpus.TargetFolder,
		"mode":   conf.Training.Mode,
	}).Info("codebook trainer starting")
	log.Debugf("configuration:\n%s", conf)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orchestrator.NewPipeline(conf, nil, log).Run(ctx)
	if err != nil {
		return err
	}
	if len(res.Warnings) > 0 || len(res.ItemErrors) > 0 {
		log.WithFields(logrus.Fields{
			"warnings":    len(res.Warnings),
			"item_errors": len(res.ItemErrors),
		}).Warn("training finished with problems")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "codebook: %s (%d entries)\npitch:    %s\n", res.Codebook, res.Entries, res.Pitch)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
