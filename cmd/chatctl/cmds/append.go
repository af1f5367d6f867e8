package cmds

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/chatctl/pkg/chats"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewAppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <chat-id>",
		Short: "Append a message under the chat's current message",
		Long: "Append a message under the chat's current message and make it the new current " +
			"message. Use --content - to read the content from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			model, _ := cmd.Flags().GetString("model")
			printEvents, _ := cmd.Flags().GetBool("print-events")

			if !cmd.Flags().Changed("content") {
				return errors.Wrap(conversation.ErrInvalidArgument, "--content is required (use --content \"\" for an empty message)")
			}
			content, _ := cmd.Flags().GetString("content")
			if content == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read content from stdin")
				}
				content = string(b)
			}

			ctx := helpers.ContextWithCorrelationID(cmd.Context(), helpers.NewCorrelationID())
			rt, err := NewRuntime(ctx, WithPrintEvents(printEvents))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			return rt.Run(ctx, func(ctx context.Context) error {
				res, err := rt.Service.AppendMessage(ctx, chats.AppendRequest{
					ChatID:  args[0],
					Role:    conversation.Role(role),
					Content: helpers.StringPointer(content),
					Model:   model,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if printEvents {
					out = os.Stderr
				}
				parent := res.ParentID
				if parent == "" {
					parent = "(root)"
				}
				_, _ = fmt.Fprintf(out, "appended %s under %s in chat %s (version %d)\n",
					res.MessageID, parent, res.Chat.ID, res.Chat.Version)
				return nil
			})
		},
	}
	cmd.Flags().String("role", string(conversation.RoleUser), "Message role")
	cmd.Flags().String("content", "", "Message content (- reads stdin)")
	cmd.Flags().String("model", "", "Model recorded on the message")
	cmd.Flags().Bool("print-events", false, "Print emitted chat events as JSON")
	return cmd
}
