package cmds

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/chatctl/pkg/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored chats, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			archived, _ := cmd.Flags().GetBool("archived")
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := NewRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			chats, err := rt.Service.ListChats(cmd.Context(), store.ListOptions{
				UserID:          userID,
				IncludeArchived: archived,
				Limit:           limit,
			})
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no chats")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "User", "Title", "Messages", "Input", "Updated", "Version"})
			table.SetAutoWrapText(false)
			for _, c := range chats {
				messages := 0
				if c.History != nil {
					messages = len(c.History.Messages)
				}
				input := "on"
				if !c.InputEnabled {
					input = "off"
				}
				title := c.Title
				if c.Archived {
					title += " (archived)"
				}
				table.Append([]string{
					c.ID,
					c.UserID,
					title,
					strconv.Itoa(messages),
					input,
					humanize.Time(time.Unix(c.UpdatedAt, 0)),
					strconv.FormatUint(c.Version, 10),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("user", "", "Only list chats owned by this user id")
	cmd.Flags().Bool("archived", false, "Include archived chats")
	cmd.Flags().Int("limit", 0, "Maximum number of chats (0 = all)")
	return cmd
}
