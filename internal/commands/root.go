package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/stratum/internal/config"
	"evalgo.org/stratum/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Cluster lifecycle and aggregation engine",
	Long: `Stratum groups container hosts into clusters and manages their
lifecycle: creation with a first host, host admission, aggregated
status and resource views, and asynchronous teardown.

Run "stratum server" to serve the REST API, or use the cluster
commands to talk to a running server.`,
	Version: version.Version,
}

func Execute() error {
	// main sets the build metadata after package initialization.
	rootCmd.Version = version.Version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if outputFormat != "table" {
			return printOutput(info)
		}

		fmt.Println(info.String())
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Printf("\nDetails:\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Git Commit: %s\n", info.GitCommit)
			fmt.Printf("  Built:      %s\n", info.BuildTime)
			fmt.Printf("  Go Version: %s\n", info.GoVersion)
			fmt.Printf("  Platform:   %s\n", info.Platform)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
	versionCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}
