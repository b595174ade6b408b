package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "botrelay",
	Short: "Multi-bot Telegram relay",
	Long: `botrelay keeps one Telegram session per enabled bot and routes every
inbound message through that bot's rules: forward with appended text,
replace a merchant order number with its pay order id, or auto-reply.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (or BOTRELAY_CONFIG env)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file loaded before the environment is read")
}
