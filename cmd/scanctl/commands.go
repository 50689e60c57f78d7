package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"productocr/pkg/poller"
)

func newRootCmd() *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:           "scanctl",
		Short:         "Submit product images for extraction and fetch the results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", defaultAPIURL(), "base URL of the extraction service")

	root.AddCommand(newSubmitCmd(&apiURL))
	root.AddCommand(newStatusCmd(&apiURL))
	root.AddCommand(newResultsCmd(&apiURL))
	return root
}

func defaultAPIURL() string {
	if v := os.Getenv("SCANCTL_API"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func newClient(apiURL string) *poller.Client {
	return poller.NewClient(apiURL, &http.Client{Timeout: 30 * time.Second})
}

func newSubmitCmd(apiURL *string) *cobra.Command {
	var interval time.Duration
	var attempts int

	cmd := &cobra.Command{
		Use:   "submit <image>",
		Short: "Upload an image and wait for the extracted product data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
			fileName := filepath.Base(path)
			fileType := mime.TypeByExtension(filepath.Ext(path))
			if fileType == "" {
				fileType = "application/octet-stream"
			}

			ctx := cmd.Context()
			client := newClient(*apiURL)
			jobID, uploadURL, err := client.Submit(ctx, fileName, fileType)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s created, uploading %s (%d bytes)\n", jobID, fileName, len(data))

			runner := poller.NewRunner(client, poller.Config{Interval: interval, MaxAttempts: attempts})
			session := runner.Start(ctx, jobID, func(ctx context.Context) error {
				return client.Upload(ctx, uploadURL, fileType, data)
			})
			out, err := session.Wait(ctx)
			if err != nil {
				return err
			}

			switch out.State {
			case poller.StateSucceeded:
				return printJSON(cmd, map[string]any{"jobId": jobID, "extractedData": out.Data})
			case poller.StateFailed:
				return fmt.Errorf("job %s failed: %s", jobID, out.ErrorMessage)
			default:
				return fmt.Errorf("job %s did not finish after %d checks; retry with `scanctl status %s` or resubmit", jobID, out.Attempts, jobID)
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "delay between status checks")
	cmd.Flags().IntVar(&attempts, "attempts", poller.DefaultMaxAttempts, "maximum number of status checks")
	return cmd
}

func newStatusCmd(apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient(*apiURL).JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"jobId": args[0], "status": st.Status}
			if st.ErrorMessage != "" {
				out["errorMessage"] = st.ErrorMessage
			}
			return printJSON(cmd, out)
		},
	}
}

func newResultsCmd(apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "results <jobId>",
		Short: "Fetch the extracted data of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient(*apiURL).JobResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"jobId": args[0], "extractedData": data})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
