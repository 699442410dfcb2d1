package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"EmotionDetServer/loader"
	"EmotionDetServer/logger"
	"EmotionDetServer/status"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the engine, face detector and emotion model once and report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		l := loader.New(cfg, status.NewMachine(), logger.Named("loader"))
		defer l.Close()
		return runCheck(cmd, l, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, l *loader.Loader, out io.Writer) error {
	bar := progressbar.NewOptions(3,
		progressbar.OptionSetDescription("loading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	started := false
	l.OnPhase = func(p loader.Phase) {
		if started {
			_ = bar.Add(1)
		}
		started = true
		bar.Describe(p.String())
	}

	assets, err := l.Initialize(cmd.Context())
	if err != nil {
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr)
		return err
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	fmt.Fprintf(out, "OpenCV:  %s\n", assets.Runtime.Version())
	fmt.Fprintf(out, "Labels:  %s\n", strings.Join(assets.Labels, ", "))
	if s, ok := assets.Classifier.(interface{ OutputSize() int }); ok {
		fmt.Fprintf(out, "Outputs: %d\n", s.OutputSize())
	}
	return nil
}
