package cmd

import (
	"fmt"

	"EmotionDetServer/app"
	"EmotionDetServer/logger"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var imagePath string

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify the emotion of the largest face in one image",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a := app.New(cfg, logger.Log())
		defer a.Close()
		if err := a.Initialize(cmd.Context()); err != nil {
			return err
		}
		return classifyFile(cmd, a, imagePath)
	},
}

func init() {
	classifyCmd.Flags().StringVarP(&imagePath, "image", "i", "", "Path to a jpeg or png image")
	classifyCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(classifyCmd)
}

func classifyFile(cmd *cobra.Command, a *app.App, path string) error {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("failed to read image %s", path)
	}
	res, err := a.ClassifyImage(&img)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !res.Found {
		fmt.Fprintln(out, "no face")
		return nil
	}
	fmt.Fprintf(out, "%s %d%% at (%d,%d %dx%d)\n", res.Estimate.Label, res.Estimate.Confidence,
		res.Face.Min.X, res.Face.Min.Y, res.Face.Dx(), res.Face.Dy())
	return nil
}
