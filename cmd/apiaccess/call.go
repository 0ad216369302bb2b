package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/classify"
	"github.com/goliatone/go-apiaccess/pkg/commands"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
)

func newCallCmd(a *app) *cobra.Command {
	var (
		method         string
		query          string
		params         []string
		body           string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "call <service> <target>",
		Short: "Send a sanitized, authenticated request and print the JSON payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseParams(params)
			if err != nil {
				return err
			}
			c, err := a.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			msg := commands.CallService{
				Service:        args[0],
				Method:         strings.ToUpper(method),
				Target:         args[1],
				Query:          query,
				Params:         extra,
				IdempotencyKey: idempotencyKey,
			}
			if body != "" {
				msg.Body = []byte(body)
			}
			var result classify.Result
			msg.OnResult = func(r classify.Result) { result = r }

			if err := c.Commands.CallService.Execute(cmd.Context(), msg); err != nil {
				a.logger.Error("call failed",
					logger.Field{Key: "service", Value: args[0]},
					logger.Field{Key: "request_id", Value: result.RequestID},
					logger.Field{Key: "kind", Value: string(apierror.KindOf(err))},
				)
				return err
			}
			_, err = fmt.Fprintln(a.stdout, string(result.Payload))
			return err
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Value for the service query parameter")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Extra query parameter as name=value (repeatable)")
	cmd.Flags().StringVarP(&body, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key; makes non-GET requests retryable")
	return cmd
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, apierror.New(apierror.KindRequest, "param %q must be name=value", p)
		}
		out[name] = value
	}
	return out, nil
}
