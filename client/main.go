package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/skyway/budget"
	"github.com/gammadia/skyway/client/flags"
	"github.com/gammadia/skyway/client/log"
	"github.com/gammadia/skyway/errdefs"
	"github.com/gammadia/skyway/orchestrator"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var skywayCmd = &cobra.Command{
	Use:   "skyway",
	Short: "Skyway runs compute nodes on clouds and clusters within a budget.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Init()
	},
}

func init() {
	skywayCmd.AddCommand(accountsCmd)
	skywayCmd.AddCommand(balanceCmd)
	skywayCmd.AddCommand(completionCmd)
	skywayCmd.AddCommand(connectCmd)
	skywayCmd.AddCommand(costCmd)
	skywayCmd.AddCommand(createCmd)
	skywayCmd.AddCommand(destroyCmd)
	skywayCmd.AddCommand(estimateCmd)
	skywayCmd.AddCommand(execCmd)
	skywayCmd.AddCommand(historyCmd)
	skywayCmd.AddCommand(lsCmd)
	skywayCmd.AddCommand(submitCmd)
	skywayCmd.AddCommand(typesCmd)
	skywayCmd.AddCommand(usageCmd)
	skywayCmd.AddCommand(usersCmd)
	skywayCmd.AddCommand(versionCmd)

	flags.Register(skywayCmd.PersistentFlags())
}

// open builds the orchestrator of the selected account for the current user.
func open(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	account := viper.GetString(flags.Account)
	if account == "" {
		return nil, errdefs.Config("account", "no account selected, use --account or SKYWAY_ACCOUNT")
	}

	policy, err := budget.ParsePolicy(viper.GetString(flags.BudgetPolicy))
	if err != nil {
		return nil, err
	}

	return orchestrator.New(cmd.Context(), orchestrator.Options{
		Root:             viper.GetString(flags.Root),
		Account:          account,
		User:             viper.GetString(flags.User),
		Policy:           policy,
		Prompter:         prompter(),
		Logger:           log.Base,
		ReadyTimeout:     viper.GetDuration(flags.ReadyTimeout),
		TerminateTimeout: viper.GetDuration(flags.TerminateTimeout),
		Hooks:            orchestrator.ShellHook{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()},
	})
}

func prompter() budget.Prompter {
	if viper.GetBool(flags.Yes) {
		return &budget.StaticPrompter{Answer: true}
	}
	return budget.NewTerminalPrompter()
}

// confirm reports whether operations should ask before acting.
func confirm() bool {
	return !viper.GetBool(flags.Yes)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	skywayCmd.SetOut(os.Stdout)
	if err := skywayCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
