package flags

import (
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	Root             = "root"
	Account          = "account"
	User             = "user"
	BudgetPolicy     = "budget-policy"
	ReadyTimeout     = "ready-timeout"
	TerminateTimeout = "terminate-timeout"
	Yes              = "yes"

	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
)

// Register defines the global flags on flags and binds them to viper, which
// also reads them from SKYWAY_* environment variables.
func Register(flags *flag.FlagSet) {
	// Skyway
	flags.String(Root, "/opt/skyway", "skyway root holding etc/ and var/")
	flags.StringP(Account, "A", "", "account to work on")
	flags.String(User, os.Getenv("USER"), "user on whose behalf to act")
	flags.String(BudgetPolicy, "advisory", "what to do with over-budget requests (advisory, enforce)")
	flags.Duration(ReadyTimeout, 10*time.Minute, "how long to wait for nodes to become ready")
	flags.Duration(TerminateTimeout, 5*time.Minute, "how long to wait for nodes to terminate")
	flags.BoolP(Yes, "y", false, "do not ask for confirmation")

	// Logging
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "WARN", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")

	viper.SetEnvPrefix("skyway")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
