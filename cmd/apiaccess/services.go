package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/options"
)

func newServicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect declared services",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List declared services and their auth mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tAUTH\tBASE URL")
			for _, svc := range cfg.Services {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", svc.Name, svc.Auth.Mode, svc.BaseURL)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "describe <service>",
		Short: "Show the effective settings of a service and where each comes from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			svc, ok := cfg.Service(args[0])
			if !ok {
				return apierror.New(apierror.KindConfig, "service %q is not configured", args[0])
			}
			resolver, err := options.ServiceResolver(cfg, svc, nil)
			if err != nil {
				return apierror.Wrap(apierror.KindConfig, err, "resolve %s", svc.Name)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SETTING\tVALUE\tFROM")
			for _, key := range resolver.Keys() {
				value, _, err := resolver.Resolve(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\n", key, value, resolver.Origin(key))
			}
			return tw.Flush()
		},
	})
	return cmd
}
