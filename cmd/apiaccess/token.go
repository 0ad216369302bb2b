package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-apiaccess/pkg/commands"
	"github.com/goliatone/go-apiaccess/pkg/token"
)

type tokenView struct {
	Service   string    `json:"service"`
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Interact with OAuth2 access tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "fetch <service>",
		Short: "Acquire a client-credentials token and print it masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			var view tokenView
			err = c.Commands.WarmToken.Execute(cmd.Context(), commands.WarmToken{
				Service: args[0],
				OnToken: func(tok token.AccessToken) {
					view = tokenView{Service: args[0], Type: tok.Type, Token: tok.String(), ExpiresAt: tok.ExpiresAt}
				},
			})
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	})
	return cmd
}
