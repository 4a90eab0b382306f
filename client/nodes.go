package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/skyway/client/ui"
	"github.com/gammadia/skyway/provisioner"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the nodes of the account",
	Args:    cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		nodes, err := o.Provisioner().ListNodes(cmd.Context(), provisioner.Caller{User: o.User()}, provisioner.ListOptions{
			IncludeProtected: lo.Must(cmd.Flags().GetBool("all")),
			OnlyMine:         lo.Must(cmd.Flags().GetBool("mine")),
		})
		if err != nil {
			return err
		}

		currency := o.Vendor().CurrencySymbol()
		cmd.Printf("%-20s  %-10s  %-22s  %-8s  %-20s  %-16s  %10s  %s\n", "NAME", "OWNER", "STATUS", "TYPE", "ID", "ENDPOINT", "ELAPSED", "COST")
		for _, n := range nodes {
			cmd.Printf("%s  %-10s  %s  %-8s  %-20s  %-16s  %10s  %s\n",
				color.HiCyanString("%-20s", n.Name), n.Owner, statusString(n.Status), n.SKU, n.ID, n.Endpoint,
				n.Elapsed.Round(time.Second), money(currency, n.Cost))
		}
		return nil
	},
}

func statusString(s provisioner.NodeStatus) string {
	padded := fmt.Sprintf("%-22s", s)
	switch s {
	case provisioner.NodeStatusRunning:
		return color.HiGreenString(padded)
	case provisioner.NodeStatusProvisioning, provisioner.NodeStatusRequested:
		return color.HiYellowString(padded)
	case provisioner.NodeStatusProvisionFailed:
		return color.HiRedString(padded)
	default:
		return padded
	}
}

var createCmd = &cobra.Command{
	Use:   "create TYPE NAME...",
	Short: "Create nodes of a node type",
	Args:  cobra.MinimumNArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		walltime, err := provisioner.ParseWalltime(lo.Must(cmd.Flags().GetString("walltime")))
		if err != nil {
			return err
		}

		req := provisioner.CreateRequest{
			SKU:      args[0],
			Names:    args[1:],
			Walltime: walltime,
			Confirm:  confirm(),
			Image:    lo.Must(cmd.Flags().GetString("image")),
		}

		var results map[string]provisioner.ProvisionResult
		create := func() (err error) {
			results, err = o.Provisioner().CreateNodes(cmd.Context(), provisioner.Caller{User: o.User()}, req)
			return err
		}
		if req.Confirm {
			err = create()
		} else {
			err = ui.Wait(fmt.Sprintf("Creating %d node(s) of type %s", len(req.Names), req.SKU), create)
		}

		printProvisioned(cmd, o.Account().Name, req.Names, results)
		return err
	},
}

func printProvisioned(cmd *cobra.Command, account string, names []string, results map[string]provisioner.ProvisionResult) {
	for _, name := range names {
		r, ok := results[name]
		if !ok {
			continue
		}
		if r.Err != nil {
			cmd.PrintErrln(color.HiRedString("Node '%s' failed: %v", name, r.Err))
			continue
		}

		cmd.Printf("%s  %s  %s  %s\n", color.HiCyanString(name), r.ID, r.Endpoint, r.Status)
		if !r.ShutdownScheduled {
			cmd.PrintErrln(color.HiYellowString("Node '%s' has no scheduled shutdown, destroy it when done", name))
		}
	}
	if len(results) > 0 {
		cmd.PrintErrf("Connect with: skyway connect --account=%s NAME\n", account)
	}
}

var destroyCmd = &cobra.Command{
	Use:   "destroy NAME...",
	Short: "Destroy nodes and record their usage",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		req := provisioner.DestroyRequest{Confirm: confirm()}
		if lo.Must(cmd.Flags().GetBool("id")) {
			req.IDs = args
		} else {
			req.Names = args
		}

		results, err := o.Provisioner().DestroyNodes(cmd.Context(), provisioner.Caller{User: o.User()}, req)

		currency := o.Vendor().CurrencySymbol()
		for _, r := range results {
			switch r.Outcome {
			case provisioner.OutcomeTerminated, provisioner.OutcomeTerminating:
				line := fmt.Sprintf("Node '%s' (%s) %s", r.Name, r.ID, r.Outcome)
				if r.Record != nil {
					line += fmt.Sprintf(", cost %s, balance %s", money(currency, r.Record.Cost), money(currency, r.Record.Balance))
				} else if r.AlreadyRecorded {
					line += ", usage already billed"
				}
				cmd.PrintErrln(color.HiGreenString(line))
				if r.Err != nil {
					cmd.PrintErrln(color.HiYellowString("  %v", r.Err))
				}
			case provisioner.OutcomeProtected, provisioner.OutcomeDeclined:
				cmd.PrintErrln(color.HiYellowString("Skipped node '%s': %s", r.Target, r.Outcome))
			default:
				cmd.PrintErrln(color.HiRedString("Failed on '%s': %v", r.Target, lo.Ternary[any](r.Err != nil, r.Err, r.Outcome)))
			}
		}
		return err
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect NAME",
	Short: "Open an SSH session on a node",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		conn, err := o.Connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		argv := []string{"-o", "StrictHostKeyChecking=accept-new"}
		if conn.PrivateKey != "" {
			argv = append(argv, "-i", conn.PrivateKey)
		}
		argv = append(argv, conn.Login)

		if lo.Must(cmd.Flags().GetBool("print")) {
			cmd.Println("ssh " + strings.Join(argv, " "))
			return nil
		}

		ssh := exec.CommandContext(cmd.Context(), "ssh", argv...)
		ssh.Stdin, ssh.Stdout, ssh.Stderr = os.Stdin, os.Stdout, os.Stderr

		var exitErr *exec.ExitError
		if err := ssh.Run(); err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("failed to run ssh: %w", err)
		}
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec NAME [COMMAND...]",
	Short: "Run a command or a script on a node",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		script := lo.Must(cmd.Flags().GetString("script"))
		if (script == "") == (len(args) == 1) {
			return fmt.Errorf("give either a command or --script")
		}

		o, err := open(cmd)
		if err != nil {
			return err
		}

		id, err := o.Provisioner().InstanceID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var output string
		if script != "" {
			output, err = o.Provisioner().ExecuteScript(cmd.Context(), id, script)
		} else {
			output, err = o.Provisioner().Execute(cmd.Context(), id, strings.Join(args[1:], " "))
		}
		cmd.Print(output)
		return err
	},
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show the running cost of the account's nodes",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := open(cmd)
		if err != nil {
			return err
		}

		nodes, err := o.Provisioner().ListNodes(cmd.Context(), provisioner.Caller{User: o.User()}, provisioner.ListOptions{IncludeProtected: true})
		if err != nil {
			return err
		}

		currency := o.Vendor().CurrencySymbol()
		byOwner := map[string]float64{}
		for _, n := range nodes {
			byOwner[n.Owner] += n.Cost
			if lo.Must(cmd.Flags().GetBool("verbose")) {
				cmd.Printf("%s  %-10s  %-8s  %10s  %s\n", color.HiCyanString("%-20s", n.Name), n.Owner, n.SKU, n.Elapsed.Round(time.Second), money(currency, n.Cost))
			}
		}

		owners := lo.Keys(byOwner)
		sort.Strings(owners)
		for _, owner := range owners {
			cmd.Printf("%-16s  %s\n", owner, money(currency, byOwner[owner]))
		}
		cmd.Printf("%-16s  %s\n", "total", money(currency, lo.Sum(lo.Values(byOwner))))
		return nil
	},
}

func init() {
	lsCmd.Flags().BoolP("all", "a", false, "include protected nodes")
	lsCmd.Flags().Bool("mine", false, "only list my nodes")

	createCmd.Flags().StringP("walltime", "t", provisioner.FormatWalltime(provisioner.DefaultWalltime), "maximum lifetime of the nodes (HH:MM:SS)")
	createCmd.Flags().String("image", "", "image overriding the account default")

	destroyCmd.Flags().Bool("id", false, "arguments are node IDs instead of names")

	connectCmd.Flags().Bool("print", false, "print the ssh command instead of running it")

	execCmd.Flags().String("script", "", "local script whose commands run on the node")

	costCmd.Flags().BoolP("verbose", "v", false, "show every node")
}
