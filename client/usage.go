package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/skyway/client/ui"
	"github.com/gammadia/skyway/ledger"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show your budget, spending and running cost",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		b, err := o.Balance(cmd.Context())
		if err != nil {
			return err
		}

		cmd.Printf("User:      %s\n", color.HiCyanString(b.User))
		cmd.Printf("Budget:    %s\n", money(b.Currency, b.Budget))
		cmd.Printf("Spent:     %s\n", money(b.Currency, b.Spent))
		cmd.Printf("Remaining: %s\n", money(b.Currency, b.Remaining()))
		cmd.Printf("Running:   %s\n", money(b.Currency, b.Running))

		available := money(b.Currency, b.Available())
		if b.Available() < 0 {
			available = color.HiRedString(available)
		}
		cmd.Printf("Available: %s\n", available)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show your past node usage",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		entries, err := o.History(cmd.Context())
		if err != nil {
			return err
		}

		for _, e := range entries {
			cmd.Printf("%s  %-24s  %-16s  %s  %s\n",
				e.Start.Local().Format(time.DateTime), e.NodeID, e.InstanceType,
				e.End.Local().Format(time.DateTime), e.End.Sub(e.Start).Round(time.Second))
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Manage the account's usage ledger",
}

var usageExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the usage ledger as CSV to a file, stdout or an S3 bucket",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		if bucket := lo.Must(cmd.Flags().GetString("s3-bucket")); bucket != "" {
			exporter, err := ledger.NewS3Exporter(cmd.Context(), ledger.S3Config{
				Bucket:       bucket,
				Prefix:       lo.Must(cmd.Flags().GetString("s3-prefix")),
				Region:       lo.Must(cmd.Flags().GetString("s3-region")),
				Endpoint:     lo.Must(cmd.Flags().GetString("s3-endpoint")),
				UsePathStyle: lo.Must(cmd.Flags().GetBool("s3-path-style")),
			})
			if err != nil {
				return err
			}

			var key string
			if err := ui.Wait(fmt.Sprintf("Uploading ledger to bucket %s", bucket), func() (err error) {
				key, err = exporter.Upload(cmd.Context(), o.Ledger(), o.Account().Name, time.Now())
				return err
			}); err != nil {
				return err
			}
			cmd.Printf("s3://%s/%s\n", bucket, key)
			return nil
		}

		output := lo.Must(cmd.Flags().GetString("output"))
		if output == "" || output == "-" {
			return o.Ledger().Export(cmd.Context(), cmd.OutOrStdout())
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create '%s': %w", output, err)
		}
		if err := o.Ledger().Export(cmd.Context(), f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	},
}

func init() {
	usageCmd.AddCommand(usageExportCmd)

	usageExportCmd.Flags().StringP("output", "o", "", "file to write, stdout when empty")
	usageExportCmd.Flags().String("s3-bucket", "", "upload a snapshot to this bucket instead")
	usageExportCmd.Flags().String("s3-prefix", "skyway/", "object key prefix")
	usageExportCmd.Flags().String("s3-region", "us-east-1", "bucket region")
	usageExportCmd.Flags().String("s3-endpoint", "", "endpoint of an S3-compatible service")
	usageExportCmd.Flags().Bool("s3-path-style", false, "use path-style bucket addressing")
}
