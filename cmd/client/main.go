package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/fish-api/internal/client"
	"github.com/Brownie44l1/fish-api/internal/predict"
)

var (
	apiURL    string
	imageURL  string
	imageFile string
	threshold float64
	thumbOut  string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "fish-client",
	Short: "Command-line client for the fish classifier API",
}

var predictCmd = &cobra.Command{
	Use:          "predict",
	Short:        "Classify an image by URL or local file",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (imageURL == "") == (imageFile == "") {
			return errors.New("pass exactly one of --url or --file")
		}

		var req predict.Request
		if imageURL != "" {
			req.ImageURL = imageURL
		} else {
			b64, err := client.EncodeFile(imageFile)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			req.ImageBase64 = b64
		}
		if cmd.Flags().Changed("threshold") {
			req.Threshold = &threshold
		}

		c := client.New(apiURL, timeout)
		res, err := c.Predict(cmd.Context(), req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "POST %s/predict\n", apiURL)
		fmt.Fprintf(out, "Status: %d  |  Took: %d ms\n", res.Status, res.Took.Milliseconds())
		fmt.Fprintln(out, client.Pretty(res.Body))

		if thumbOut != "" {
			if err := client.SaveThumbnail(res.Body, thumbOut); err != nil {
				return err
			}
			fmt.Fprintf(out, "thumbnail written to %s\n", thumbOut)
		}
		return nil
	},
}

func init() {
	_ = godotenv.Load()

	defaultAPI := os.Getenv("API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPI, "base URL of the API (env API_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "request timeout")

	predictCmd.Flags().StringVar(&imageURL, "url", "", "remote image URL")
	predictCmd.Flags().StringVar(&imageFile, "file", "", "local image file, sent as base64")
	predictCmd.Flags().Float64Var(&threshold, "threshold", 0.5, "decision threshold for the positive class")
	predictCmd.Flags().StringVar(&thumbOut, "thumb-out", "", "write the returned thumbnail to this path")

	rootCmd.AddCommand(predictCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
