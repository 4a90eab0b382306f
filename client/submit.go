package main

import (
	"sort"

	"github.com/fatih/color"
	"github.com/gammadia/skyway/client/ui"
	"github.com/gammadia/skyway/orchestrator"
	"github.com/gammadia/skyway/provisioner"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [SCRIPT]",
	Short: "Create the nodes of a run and start its job script",
	Long: `Create the nodes of a run and start its job script.

The script's #SBATCH directives provide the job name (--job-name), the node
type (--constraint) and the walltime (--time) unless given as flags. A line
calling a skyway_ command is run locally once the nodes exist, with the
account and job name appended. The remaining commands run on every node.`,
	Args: cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		req := orchestrator.SubmitRequest{
			JobName: lo.Must(cmd.Flags().GetString("job-name")),
			SKU:     lo.Must(cmd.Flags().GetString("type")),
			Count:   lo.Must(cmd.Flags().GetInt("count")),
			Image:   lo.Must(cmd.Flags().GetString("image")),
			Confirm: confirm(),
		}
		if len(args) == 1 {
			req.JobScript = args[0]
		}
		if walltime := lo.Must(cmd.Flags().GetString("walltime")); walltime != "" {
			if req.Walltime, err = provisioner.ParseWalltime(walltime); err != nil {
				return err
			}
		}

		var result orchestrator.SubmitResult
		submit := func() (err error) {
			result, err = o.Submit(cmd.Context(), req)
			return err
		}
		if req.Confirm {
			err = submit()
		} else {
			err = ui.Wait("Submitting run", submit)
		}

		names := lo.Keys(result.Nodes)
		sort.Strings(names)
		printProvisioned(cmd, o.Account().Name, names, result.Nodes)
		for _, name := range names {
			if output := result.Output[name]; output != "" {
				cmd.Printf("%s\n%s", color.HiCyanString("==> %s <==", name), output)
			}
		}
		return err
	},
}

var estimateCmd = &cobra.Command{
	Use:   "estimate TYPE",
	Short: "Estimate the cost of a node for a walltime",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		walltime, err := provisioner.ParseWalltime(lo.Must(cmd.Flags().GetString("walltime")))
		if err != nil {
			return err
		}
		count := max(lo.Must(cmd.Flags().GetInt("count")), 1)

		cost, err := o.EstimateCost(args[0], walltime)
		if err != nil {
			return err
		}

		balance, err := o.Balance(cmd.Context())
		if err != nil {
			return err
		}

		currency := o.Vendor().CurrencySymbol()
		total := cost * float64(count)
		cmd.Printf("Estimated cost: %s (%d x %s for %s)\n", money(currency, total), count, args[0], provisioner.FormatWalltime(walltime))
		cmd.Printf("Available:      %s\n", money(currency, balance.Available()))
		if total > balance.Available() {
			cmd.PrintErrln(color.HiYellowString("The estimated cost exceeds the available budget"))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("job-name", "J", "", "name of the run, and of its node")
	submitCmd.Flags().StringP("type", "C", "", "node type")
	submitCmd.Flags().StringP("walltime", "t", "", "maximum lifetime of the nodes (HH:MM:SS)")
	submitCmd.Flags().IntP("count", "N", 1, "number of nodes, named after the job")
	submitCmd.Flags().String("image", "", "image overriding the account default")

	estimateCmd.Flags().StringP("walltime", "t", provisioner.FormatWalltime(provisioner.DefaultWalltime), "walltime to price (HH:MM:SS)")
	estimateCmd.Flags().IntP("count", "N", 1, "number of nodes")
}
