package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nfsidmap"
)

const defaultListenAddr = "localhost:9474"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	domain     string
	production bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "idmapd",
		Short: "NFSv4 identity mapping daemon",
		Long: `idmapd translates between NFSv4 wire identities (user and group names,
user@domain principals) and numeric uid/gid values using an LDAP directory
or the local account database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", nfsidmap.DefaultConfigPath, "Path to the idmap configuration file")
	cmd.PersistentFlags().StringVar(&flags.domain, "domain", "", "Local NFSv4 domain (defaults to the host's DNS domain)")
	cmd.PersistentFlags().BoolVar(&flags.production, "production", false, "Use JSON production logging")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newLookupCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))

	return cmd
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	if f.production {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}

func (f *rootFlags) localDomain() string {
	if f.domain != "" {
		return f.domain
	}

	host, err := os.Hostname()
	if err != nil {
		return "localdomain"
	}

	if _, domain, ok := strings.Cut(host, "."); ok && domain != "" {
		return domain
	}

	return "localdomain"
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve identity lookups over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", defaultListenAddr, "HTTP listen address")

	return cmd
}

func serve(ctx context.Context, flags *rootFlags, listen string) error {
	log, err := flags.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()

	mapper, err := nfsidmap.New(log, flags.localDomain(),
		nfsidmap.WithConfigPath(flags.configPath),
		nfsidmap.WithMetrics(nfsidmap.NewMetrics(reg)))
	if err != nil {
		return err
	}

	defer func() {
		if err := mapper.Close(); err != nil {
			log.Warn("close mapper", zap.Error(err))
		}
	}()

	srv := NewServer(log, listen, mapper, reg)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.ListenAndServe(groupCtx) })

	return group.Wait()
}

func newLookupCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <op> <key>",
		Short: "Resolve a single identity and print it as JSON",
		Long: `Resolve a single identity. op is one of:
  name-to-uid, name-to-ids, uid-to-name, principal-to-ids,
  group-to-gid, gid-to-group`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := flags.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			defer func() { _ = log.Sync() }()

			mapper, err := nfsidmap.New(log, flags.localDomain(), nfsidmap.WithConfigPath(flags.configPath))
			if err != nil {
				return err
			}
			defer func() { _ = mapper.Close() }()

			id, err := resolve(mapper, args[0], args[1])
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), id)
		},
	}
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := nfsidmap.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), cfg.Format())
			return err
		},
	}
}
