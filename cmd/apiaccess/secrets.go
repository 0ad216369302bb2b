package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/commands"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

func newKeygenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a base64 encryption key for CONFIG_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, key)
			return nil
		},
	}
}

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage sealed secrets",
	}
	cmd.AddCommand(newSecretSetCmd(a), newSecretListCmd(a), newSecretShowCmd(a))
	return cmd
}

func newSecretSetCmd(a *app) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "set <service> [key]",
		Short: "Seal a value and store it for a service",
		Long: `Seal a value and store it for a service. The value is read from the
APIACCESS_SECRET_VALUE environment variable, or from the first line of stdin
with --stdin, so it never appears in the process arguments.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.secretValue(cmd.InOrStdin(), fromStdin)
			if err != nil {
				return err
			}
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			msg := commands.SealSecret{Service: args[0], Value: value}
			if len(args) == 2 {
				msg.Key = args[1]
			}
			if err := c.Commands.SealSecret.Execute(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "stored %s\n", secrets.Reference{Service: msg.Service, Key: keyOr(msg.Key, c.Config.Secrets.DefaultKey)})
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the value from stdin")
	return cmd
}

func newSecretListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			refs, err := c.Secrets.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintln(a.stdout, ref.String())
			}
			return nil
		},
	}
}

func newSecretShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <service> [key]",
		Short: "Decrypt a secret and print it masked",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			value, err := c.Gateway.Secret(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, secrets.Mask(value))
			return nil
		},
	}
}

const envSecretValue = "APIACCESS_SECRET_VALUE"

func (a *app) secretValue(in io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", apierror.Wrap(apierror.KindConfig, secrets.ErrEmptyValue, "no value on stdin")
		}
		return line, nil
	}
	lookup := a.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(envSecretValue); ok && v != "" {
		return v, nil
	}
	return "", apierror.Wrap(apierror.KindConfig, secrets.ErrEmptyValue, "set %s or pass --stdin", envSecretValue)
}

func keyOr(key, fallback string) string {
	if strings.TrimSpace(key) == "" {
		return fallback
	}
	return key
}
