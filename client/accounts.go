package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gammadia/skyway/account"
	"github.com/gammadia/skyway/catalog"
	"github.com/gammadia/skyway/client/flags"
	"github.com/gammadia/skyway/errdefs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts [NAME]",
	Short: "List accounts, or show one",
	Args:  cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		root := viper.GetString(flags.Root)

		if len(args) == 1 {
			a, err := account.Load(root, args[0])
			if err != nil {
				return err
			}
			showAccount(cmd, a)
			return nil
		}

		names, err := account.List(root)
		if err != nil {
			return err
		}
		for _, name := range names {
			a, err := account.Load(root, name)
			if err != nil {
				cmd.Printf("%-20s  %s\n", name, color.HiRedString("invalid: %v", err))
				continue
			}
			cmd.Printf("%-20s  %-10s  %d users  %s\n", color.HiCyanString(name), a.Backend, len(a.Users), a.Description)
		}
		return nil
	},
}

func showAccount(cmd *cobra.Command, a *account.Account) {
	cmd.Printf("Account:      %s\n", color.HiCyanString(a.Name))
	cmd.Printf("Backend:      %s\n", a.Backend)
	if a.Description != "" {
		cmd.Printf("Description:  %s\n", a.Description)
	}
	cmd.Printf("Users:        %s\n", strings.Join(a.UserNames(), ", "))
	cmd.Printf("Total budget: %.2f\n", a.TotalBudget())
	if len(a.ProtectedNodes) > 0 {
		cmd.Printf("Protected:    %s\n", strings.Join(a.ProtectedNodes, ", "))
	}
}

// selected loads the account chosen with --account and its catalog entry.
func selected() (*account.Account, *catalog.Vendor, error) {
	root, name := viper.GetString(flags.Root), viper.GetString(flags.Account)
	if name == "" {
		return nil, nil, errdefs.Config("account", "no account selected, use --account or SKYWAY_ACCOUNT")
	}

	a, err := account.Load(root, name)
	if err != nil {
		return nil, nil, err
	}
	c, err := catalog.Load(catalog.PathFor(root))
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.ErrConfig, "catalog", err)
	}
	v, err := c.Backend(string(a.Backend))
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.ErrConfig, a.Name, err)
	}
	return a, v, nil
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the node types of the account's backend",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		_, vendor, err := selected()
		if err != nil {
			return err
		}

		cmd.Printf("%-10s  %-24s  %5s  %8s  %-10s  %s\n", "TYPE", "INSTANCE TYPE", "CORES", "MEMORY", "GPU", "PRICE/HR")
		for _, t := range vendor.Types() {
			gpu := "-"
			if t.HasGPU() {
				gpu = strings.TrimSpace(fmt.Sprintf("%d %s", t.GPU, t.GPUType))
			}
			cmd.Printf("%s  %-24s  %5d  %6.0fGB  %-10s  %s\n",
				color.HiCyanString("%-10s", t.Name), t.InstanceType, t.Cores, t.MemoryGB, gpu, money(vendor.CurrencySymbol(), t.Price))
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the users of the account and their budgets",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		a, vendor, err := selected()
		if err != nil {
			return err
		}

		for _, name := range a.UserNames() {
			cmd.Printf("%-16s  %s\n", name, money(vendor.CurrencySymbol(), a.Users[name].Budget))
		}
		cmd.Printf("%-16s  %s\n", "total", money(vendor.CurrencySymbol(), a.TotalBudget()))
		return nil
	},
}

func money(currency string, v float64) string {
	if currency == "$" {
		return fmt.Sprintf("$%.3f", v)
	}
	return fmt.Sprintf("%.3f %s", v, currency)
}
