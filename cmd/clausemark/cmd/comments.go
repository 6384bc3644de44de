package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"clausemark/api/internal/comments"
	"clausemark/api/internal/workspace"
)

var (
	selStart   int
	selEnd     int
	noteText   string
	changeType string
	newText    string
)

func init() {
	commentsCmd.AddCommand(listCommentsCmd, addCommentCmd, searchCommentsCmd)
	for _, c := range removalCmds() {
		commentsCmd.AddCommand(c)
	}

	addCommentCmd.Flags().IntVar(&selStart, "start", 0, "selection start in document text offsets")
	addCommentCmd.Flags().IntVar(&selEnd, "end", 0, "selection end, exclusive")
	addCommentCmd.Flags().StringVarP(&noteText, "text", "m", "", "comment text")
	addCommentCmd.Flags().StringVarP(&changeType, "type", "t", string(comments.ChangeComment), "comment, insert or delete")
	addCommentCmd.Flags().StringVar(&newText, "new-text", "", "proposed replacement for an insert change")
	_ = addCommentCmd.MarkFlagRequired("end")
}

var commentsCmd = &cobra.Command{
	Use:     "comments",
	Aliases: []string{"c"},
	Short:   "List, add and resolve comments on a contract",
}

var listCommentsCmd = &cobra.Command{
	Use:   "list",
	Short: "List open comments in document order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		id, err := contractID()
		if err != nil {
			return err
		}
		list, err := apiClient().ListComments(ctx, id)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		printComments(cmd.OutOrStdout(), list.Comments)
		return nil
	},
}

var addCommentCmd = &cobra.Command{
	Use:   "add",
	Short: "Comment on a range of the contract text",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		ws, err := openWorkspace(ctx, cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		created, err := ws.AddComment(ctx, workspace.Selection{
			Start:       selStart,
			End:         selEnd,
			CommentText: noteText,
			ChangeType:  comments.ChangeType(changeType),
			NewText:     newText,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), created)
		}
		fmt.Fprintln(cmd.OutOrStdout(), created.ID)
		return nil
	},
}

var searchCommentsCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over open comments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		id, err := contractID()
		if err != nil {
			return err
		}
		results, err := apiClient().Search(ctx, id, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ID, r.Snippet)
		}
		return nil
	},
}

// removalCmds builds delete, accept, reject and resolve. Each loads the
// workspace first so authorship is checked before a request is sent.
func removalCmds() []*cobra.Command {
	type removal struct {
		use   string
		short string
		run   func(ws *workspace.Workspace, cmd *cobra.Command, id string) error
	}
	removals := []removal{
		{"delete", "Delete your own comment", func(ws *workspace.Workspace, cmd *cobra.Command, id string) error {
			return ws.DeleteComment(cmd.Context(), id)
		}},
		{"accept", "Accept someone else's tracked change and save the document", func(ws *workspace.Workspace, cmd *cobra.Command, id string) error {
			return ws.AcceptChange(cmd.Context(), id)
		}},
		{"reject", "Reject someone else's tracked change", func(ws *workspace.Workspace, cmd *cobra.Command, id string) error {
			return ws.RejectChange(cmd.Context(), id)
		}},
		{"resolve", "Resolve someone else's comment", func(ws *workspace.Workspace, cmd *cobra.Command, id string) error {
			return ws.ResolveComment(cmd.Context(), id)
		}},
	}

	out := make([]*cobra.Command, 0, len(removals))
	for _, r := range removals {
		out = append(out, &cobra.Command{
			Use:   r.use + " <comment-id>",
			Short: r.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := commandContext(cmd)
				defer cancel()
				cmd.SetContext(ctx)
				ws, err := openWorkspace(ctx, cmd)
				if err != nil {
					return err
				}
				defer ws.Close()
				return r.run(ws, cmd, args[0])
			},
		})
	}
	return out
}

func printComments(w io.Writer, items []comments.Comment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tAUTHOR\tRANGE\tSELECTED\tCOMMENT")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d-%d\t%s\t%s\n",
			c.ID, c.Kind(), c.UserName, c.PositionStart, c.PositionEnd,
			clip(c.SelectedText, 40), clip(c.CommentText, 60))
	}
	_ = tw.Flush()
}

func clip(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
