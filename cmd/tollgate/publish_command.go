package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tollgate/internal/governor"
	"tollgate/internal/quota"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var operation string
	var payloadPath string
	var idempotencyKey string
	var metadata map[string]string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send one governed operation to the publishing API",
		Long: "Charge quota, pass the breaker, and send the operation with retries.\n" +
			"A quota or breaker rejection exits non-zero without contacting the API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(operation) == "" {
				return fmt.Errorf("--op is required")
			}
			payload, err := readPayload(payloadPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return ctx.withGovernor(cmd, true, func(runCtx context.Context, g *governor.Governor) error {
				receipt, err := g.Publish(runCtx, governor.Request{
					Operation:      operation,
					IdempotencyKey: idempotencyKey,
					Payload:        payload,
					Metadata:       metadata,
				})
				out := cmd.OutOrStdout()
				if exceeded, ok := quota.IsExceeded(err); ok {
					fmt.Fprintf(out, "Deferred: %s remaining, resets %s\n",
						formatUnits(exceeded.Remaining()), formatTime(exceeded.ResetAt, g.Ledger().Settings().Location))
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Published %s (run %s) in %d attempt(s), charged %s units\n",
					receipt.Operation, shortID(receipt.RunID), receipt.Attempts, formatUnits(receipt.Charged))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operation, "op", "", "Operation kind (upload, update, comment, ...)")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "JSON payload file ('-' for stdin)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key (defaults to the run id)")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata key=value pairs")
	return cmd
}

func readPayload(path string, stdin io.Reader) (json.RawMessage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
