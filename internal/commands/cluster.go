package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"evalgo.org/stratum/models"
	"evalgo.org/stratum/pkg/stratum/client"
)

var (
	serverURL     string
	clientToken   string
	clientProject string

	listFilter string
	listType   string

	createName        string
	createType        string
	createDetails     string
	createPublicAddr  string
	createEmpty       bool
	acceptCertificate bool
	hostAddress       string
	hostAdapter       string
	hostType          string
	hostProperties    []string

	patchStatus string

	hostsFilter string
	hostsCustom []string
	hostsLimit  int
	hostsAll    bool
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage clusters on a running server",
	Long: `Manage clusters through the REST API of a running Stratum server.

The server URL, token and project default to the client section of the
configuration file.`,
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters",
	Long: `List the clusters of the project.

Examples:
  stratum cluster list
  stratum cluster list --type '!DOCKER'
  stratum cluster list --filter "name eq 'edge*'" -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := c.ListClusters(cmd.Context(), client.ListOptions{
			Filter: listFilter,
			Type:   listType,
			Expand: true,
		})
		if err != nil {
			return err
		}

		dtos := make([]*models.ClusterDto, 0, len(list.DocumentLinks))
		for _, link := range list.DocumentLinks {
			if dto, ok := list.Documents[link]; ok {
				dtos = append(dtos, dto)
			}
		}
		if outputFormat != "table" {
			return printOutput(dtos)
		}
		if len(dtos) == 0 {
			fmt.Println("No clusters found.")
			return nil
		}
		return printClusterTable(os.Stdout, dtos)
	},
}

var clusterGetCmd = &cobra.Command{
	Use:   "get <cluster-id>",
	Short: "Show a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		dto, err := c.GetCluster(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFormat != "table" {
			return printOutput(dto)
		}
		return printClusterDetails(os.Stdout, dto)
	},
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a cluster",
	Long: `Create a cluster with its first host, or an empty cluster.

Examples:
  # Docker cluster with one host
  stratum cluster create --name edge --address https://10.0.0.1:2376

  # Empty cluster, hosts are added later
  stratum cluster create --name staging --empty

  # Accept the certificate the host presented on the previous attempt
  stratum cluster create --address https://10.0.0.1:2376 --accept-certificate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := &models.ClusterSpec{
			Name:               createName,
			Type:               models.ClusterType(strings.ToUpper(createType)),
			Details:            createDetails,
			PublicAddress:      createPublicAddr,
			CreateEmptyCluster: createEmpty,
			AcceptCertificate:  acceptCertificate,
		}
		if !createEmpty {
			host, err := hostFromFlags()
			if err != nil {
				return err
			}
			spec.HostState = host
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		created, err := c.CreateCluster(cmd.Context(), spec)
		if err != nil {
			return err
		}
		if created.Certificate != nil {
			return printCertificateChallenge(os.Stdout, created.Certificate)
		}
		if outputFormat != "table" {
			return printOutput(created.Cluster)
		}
		fmt.Printf("✓ Cluster %s created (ID: %s)\n", created.Cluster.Name, created.Cluster.ID)
		return nil
	},
}

var clusterUpdateCmd = &cobra.Command{
	Use:   "update <cluster-id>",
	Short: "Update a cluster's name, details, status or public address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := &models.ClusterSpec{
			Name:          createName,
			Details:       createDetails,
			Status:        models.ClusterStatus(strings.ToUpper(patchStatus)),
			PublicAddress: createPublicAddr,
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		dto, err := c.PatchCluster(cmd.Context(), args[0], spec)
		if err != nil {
			return err
		}
		if outputFormat != "table" {
			return printOutput(dto)
		}
		return printClusterDetails(os.Stdout, dto)
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete <cluster-id>",
	Short: "Delete a cluster and remove its hosts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		td, err := c.DeleteCluster(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTeardown(os.Stdout, "Cluster "+args[0], td)
		return nil
	},
}

var clusterHostsCmd = &cobra.Command{
	Use:   "hosts <cluster-id>",
	Short: "List the hosts of a cluster",
	Long: `List the hosts of a cluster.

Examples:
  stratum cluster hosts cluster:4f2a
  stratum cluster hosts cluster:4f2a --custom rack=a --limit 20 --all`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		custom, err := parseProperties(hostsCustom)
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}

		hosts, err := collectHosts(cmd.Context(), c, args[0], client.HostListOptions{
			Filter:        hostsFilter,
			CustomOptions: custom,
			Limit:         hostsLimit,
		}, hostsAll)
		if err != nil {
			return err
		}
		if outputFormat != "table" {
			return printOutput(hosts)
		}
		if len(hosts) == 0 {
			fmt.Println("No hosts found.")
			return nil
		}
		return printHostTable(os.Stdout, hosts)
	},
}

var clusterAddHostCmd = &cobra.Command{
	Use:   "add-host <cluster-id>",
	Short: "Add a host to a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := hostFromFlags()
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		created, err := c.AddHost(cmd.Context(), args[0], &models.HostSpec{
			HostState:         host,
			AcceptCertificate: acceptCertificate,
		})
		if err != nil {
			return err
		}
		if created.Certificate != nil {
			return printCertificateChallenge(os.Stdout, created.Certificate)
		}
		if outputFormat != "table" {
			return printOutput(created.Host)
		}
		fmt.Printf("✓ Host %s added to cluster %s\n", created.Host.ID, args[0])
		return nil
	},
}

var clusterRemoveHostCmd = &cobra.Command{
	Use:   "remove-host <cluster-id> <host-id>",
	Short: "Remove a host from a cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		td, err := c.RemoveHost(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		printTeardown(os.Stdout, "Host "+args[1], td)
		return nil
	},
}

func init() {
	pf := clusterCmd.PersistentFlags()
	pf.StringVar(&serverURL, "server", "", "API server URL (default: client.url)")
	pf.StringVar(&clientToken, "token", "", "bearer token (default: client.token)")
	pf.StringVar(&clientProject, "project", "", "project to act on (default: client.project)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")

	clusterListCmd.Flags().StringVar(&listFilter, "filter", "", "OData filter on the clusters")
	clusterListCmd.Flags().StringVar(&listType, "type", "", "cluster type, prefix with ! to exclude it")

	for _, cmd := range []*cobra.Command{clusterCreateCmd, clusterAddHostCmd} {
		cmd.Flags().StringVar(&hostAddress, "address", "", "host address, e.g. https://10.0.0.1:2376")
		cmd.Flags().StringVar(&hostAdapter, "adapter", "API", "docker adapter type (API, VCH, KUBERNETES)")
		cmd.Flags().StringVar(&hostType, "host-type", "", "declared host type (DOCKER, SCHEDULER, KUBERNETES)")
		cmd.Flags().StringSliceVar(&hostProperties, "property", nil, "host custom property key=value, repeatable")
		cmd.Flags().BoolVar(&acceptCertificate, "accept-certificate", false, "trust the certificate the host presents")
	}

	clusterCreateCmd.Flags().StringVar(&createName, "name", "", "cluster name (default: <type>:<address>)")
	clusterCreateCmd.Flags().StringVar(&createType, "type", "", "cluster type (default: derived from the host)")
	clusterCreateCmd.Flags().StringVar(&createDetails, "details", "", "free text details")
	clusterCreateCmd.Flags().StringVar(&createPublicAddr, "public-address", "", "public address of a single-host cluster")
	clusterCreateCmd.Flags().BoolVar(&createEmpty, "empty", false, "create the cluster without a host")

	clusterUpdateCmd.Flags().StringVar(&createName, "name", "", "new cluster name")
	clusterUpdateCmd.Flags().StringVar(&createDetails, "details", "", "new details")
	clusterUpdateCmd.Flags().StringVar(&patchStatus, "status", "", "enforced cluster status")
	clusterUpdateCmd.Flags().StringVar(&createPublicAddr, "public-address", "", "new public address")

	clusterHostsCmd.Flags().StringVar(&hostsFilter, "filter", "", "OData filter on the hosts")
	clusterHostsCmd.Flags().StringSliceVar(&hostsCustom, "custom", nil, "custom property key=value the hosts must carry, repeatable")
	clusterHostsCmd.Flags().IntVar(&hostsLimit, "limit", 0, "page size (default: server limit)")
	clusterHostsCmd.Flags().BoolVar(&hostsAll, "all", false, "follow next page links")

	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterGetCmd)
	clusterCmd.AddCommand(clusterCreateCmd)
	clusterCmd.AddCommand(clusterUpdateCmd)
	clusterCmd.AddCommand(clusterDeleteCmd)
	clusterCmd.AddCommand(clusterHostsCmd)
	clusterCmd.AddCommand(clusterAddHostCmd)
	clusterCmd.AddCommand(clusterRemoveHostCmd)
}

func newAPIClient() (*client.Client, error) {
	base := cfg.Client.URL
	if serverURL != "" {
		base = serverURL
	}
	opts := client.Options{
		Token:         cfg.Client.Token,
		Project:       cfg.Client.Project,
		ProjectHeader: cfg.Cluster.ProjectHeader,
		Timeout:       cfg.Client.Timeout,
	}
	if clientToken != "" {
		opts.Token = clientToken
	}
	if clientProject != "" {
		opts.Project = clientProject
	}
	return client.New(base, opts)
}

func hostFromFlags() (*models.Host, error) {
	if hostAddress == "" {
		return nil, fmt.Errorf("--address is required")
	}
	props, err := parseProperties(hostProperties)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = make(map[string]string)
	}
	if hostAdapter != "" {
		props[models.PropAdapterType] = strings.ToUpper(hostAdapter)
	}
	if hostType != "" {
		props[models.PropHostType] = strings.ToUpper(hostType)
	}
	return &models.Host{Address: hostAddress, CustomProperties: props}, nil
}

func parseProperties(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", p)
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props, nil
}

func collectHosts(ctx context.Context, c *client.Client, clusterID string, opts client.HostListOptions, all bool) ([]*models.Host, error) {
	page, err := c.ListHosts(ctx, clusterID, opts)
	if err != nil {
		return nil, err
	}

	var hosts []*models.Host
	for page != nil {
		for _, link := range page.DocumentLinks {
			if h, ok := page.Documents[link]; ok {
				hosts = append(hosts, h)
			}
		}
		if !all {
			break
		}
		if page, err = c.NextHosts(ctx, page); err != nil {
			return nil, err
		}
	}
	return hosts, nil
}

func printClusterTable(w io.Writer, dtos []*models.ClusterDto) error {
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Name < dtos[j].Name })

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tHOSTS\tCONTAINERS\tCPU\tMEMORY")
	for _, d := range dtos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\n",
			d.ID, d.Name, d.Type, d.Status, len(d.NodeLinks), d.ContainerCount,
			d.CPUUsage, formatMemory(d.MemoryUsage, d.TotalMemory))
	}
	return tw.Flush()
}

func printClusterDetails(w io.Writer, d *models.ClusterDto) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", d.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
	fmt.Fprintf(tw, "Type:\t%s\n", d.Type)
	fmt.Fprintf(tw, "Status:\t%s\n", d.Status)
	if d.Details != "" {
		fmt.Fprintf(tw, "Details:\t%s\n", d.Details)
	}
	if d.Address != "" {
		fmt.Fprintf(tw, "Address:\t%s\n", d.Address)
	}
	if d.PublicAddress != "" {
		fmt.Fprintf(tw, "Public address:\t%s\n", d.PublicAddress)
	}
	fmt.Fprintf(tw, "Containers:\t%d (%d system)\n", d.ContainerCount, d.SystemContainersCount)
	fmt.Fprintf(tw, "CPU:\t%.1f%% of %.0f\n", d.CPUUsage, d.TotalCPU)
	fmt.Fprintf(tw, "Memory:\t%s\n", formatMemory(d.MemoryUsage, d.TotalMemory))
	fmt.Fprintf(tw, "Hosts:\t%d\n", len(d.NodeLinks))
	for _, id := range d.NodeLinks {
		if h, ok := d.Nodes[id]; ok {
			fmt.Fprintf(tw, "  %s\t%s (%s)\n", id, h.Address, h.PowerState)
			continue
		}
		fmt.Fprintf(tw, "  %s\t\n", id)
	}
	return tw.Flush()
}

func printHostTable(w io.Writer, hosts []*models.Host) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tPOWER")
	for _, h := range hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, h.Name, h.Address, h.PowerState)
	}
	return tw.Flush()
}

func printCertificateChallenge(w io.Writer, cert *models.CertificateChallenge) error {
	fmt.Fprintln(w, "The host presented a certificate that is not trusted yet.")
	tw := newTable(w)
	fmt.Fprintf(tw, "Fingerprint:\t%s\n", cert.Fingerprint)
	if cert.CommonName != "" {
		fmt.Fprintf(tw, "Common name:\t%s\n", cert.CommonName)
	}
	if cert.Issuer != "" {
		fmt.Fprintf(tw, "Issuer:\t%s\n", cert.Issuer)
	}
	if !cert.NotAfter.IsZero() {
		fmt.Fprintf(tw, "Valid:\t%s to %s\n", cert.NotBefore.Format("2006-01-02"), cert.NotAfter.Format("2006-01-02"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "\nRun the command again with --accept-certificate to trust it.")
	return nil
}

func printTeardown(w io.Writer, what string, td *client.Teardown) {
	if td == nil {
		fmt.Fprintf(w, "✓ %s deleted\n", what)
		return
	}
	fmt.Fprintf(w, "%s is being removed (task %s, stage %s)\n", what, td.TaskID, td.Stage)
}

func formatMemory(used, total int64) string {
	if total <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s / %s", humanBytes(used), humanBytes(total))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
