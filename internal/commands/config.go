package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Print the effective configuration after defaults, config file and CG_ environment variables are applied. Secrets are masked.`,
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  runInitConfig,
}

var initConfigForce bool

func init() {
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "overwrite an existing config.yaml")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

const masked = "********"

func runShowConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.CouchDB.Password != "" {
		shown.CouchDB.Password = masked
	}
	if shown.Security.JWTSecret != "" {
		shown.Security.JWTSecret = masked
	}
	if shown.Client.Token != "" {
		shown.Client.Token = masked
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

const defaultConfig = `# Stratum Configuration

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

storage:
  driver: couchdb # or memory

couchdb:
  url: http://localhost:5984
  database: stratum
  username: admin
  password: password
  max_connections: 10
  timeout: 30

cluster:
  project_header: X-Project
  default_query_limit: 100
  query_expiration: 30s
  delete_wait: 10s
  removal_timeout: 10m
  synthetic_removal: false

admission:
  verify_connection: true
  connect_timeout: 10s
  ca_file: ""

removal:
  workers: 2
  queue_size: 64
  sweep_interval: 30s

logging:
  level: info
  format: json
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  jwt_secret: change-me-in-production
  jwt_expiration: 24h
  api_key_hashes: []

client:
  url: http://localhost:8080
  project: ""
  timeout: 60s
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat("config.yaml"); err == nil && !initConfigForce {
		return fmt.Errorf("config.yaml already exists, use --force to overwrite it")
	}

	if err := os.WriteFile("config.yaml", []byte(defaultConfig), 0600); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Created config.yaml")
	return nil
}
