package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print the current thread of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			messageID, _ := cmd.Flags().GetString("message")

			rt, err := NewRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			chat, err := rt.Service.GetChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printHistoryJSON(cmd.OutOrStdout(), chat)
			}
			return printThread(cmd.OutOrStdout(), chat, messageID)
		},
	}
	cmd.Flags().Bool("json", false, "Print the full history document as JSON")
	cmd.Flags().String("message", "", "Show the thread ending at this message instead of the current one")
	return cmd
}

func printHistoryJSON(w io.Writer, chat *store.Chat) error {
	b, err := json.MarshalIndent(chat.History, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printThread(w io.Writer, chat *store.Chat, messageID string) error {
	title := chat.Title
	if title == "" {
		title = "(untitled)"
	}
	_, _ = fmt.Fprintf(w, "%s  %s  v%d  updated %s\n", chat.ID, title, chat.Version, humanize.Time(time.Unix(chat.UpdatedAt, 0)))
	if !chat.InputEnabled {
		_, _ = fmt.Fprintln(w, "input disabled")
	}

	doc := chat.History
	if doc == nil {
		doc = conversation.NewDocument()
	}
	var thread []*conversation.Message
	if messageID != "" {
		if _, ok := doc.Get(messageID); !ok {
			return errors.Wrapf(conversation.ErrNotFound, "message %s", messageID)
		}
		thread = doc.Thread(messageID)
	} else {
		thread = doc.CurrentThread()
	}
	if len(thread) == 0 {
		_, _ = fmt.Fprintln(w, "no messages")
		return nil
	}

	for _, m := range thread {
		branches := ""
		if n := len(m.ChildrenIDs); n > 1 {
			branches = fmt.Sprintf("  [%d branches]", n)
		}
		_, _ = fmt.Fprintf(w, "\n[%s] %s%s\n", m.Role, m.ID, branches)
		for _, line := range strings.Split(m.Content, "\n") {
			_, _ = fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}
