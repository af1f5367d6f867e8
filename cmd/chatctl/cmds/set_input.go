package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/spf13/cobra"
)

func NewSetInputCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-input <chat-id>",
		Short: "Enable or disable user input on a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, _ := cmd.Flags().GetBool("enabled")
			printEvents, _ := cmd.Flags().GetBool("print-events")

			ctx := helpers.ContextWithCorrelationID(cmd.Context(), helpers.NewCorrelationID())
			rt, err := NewRuntime(ctx, WithPrintEvents(printEvents))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			return rt.Run(ctx, func(ctx context.Context) error {
				chat, err := rt.Service.SetInputEnabled(ctx, args[0], enabled)
				if err != nil {
					return err
				}
				state := "enabled"
				if !chat.InputEnabled {
					state = "disabled"
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "input %s on chat %s (version %d)\n", state, chat.ID, chat.Version)
				return nil
			})
		},
	}
	cmd.Flags().Bool("enabled", true, "Whether the chat accepts user input")
	cmd.Flags().Bool("print-events", false, "Print emitted chat events as JSON")
	return cmd
}
