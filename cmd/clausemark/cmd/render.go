package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clausemark/api/internal/comments"
	"clausemark/api/internal/highlight"
	"clausemark/api/internal/richtext"
)

var (
	renderFile     string
	renderComments string
)

func init() {
	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "render a local HTML file instead of fetching the contract")
	renderCmd.Flags().StringVar(&renderComments, "comments", "", "JSON file of comments to highlight in --file (a list response or an array)")
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print contract HTML with comment markers applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if renderFile == "" {
			id, err := contractID()
			if err != nil {
				return err
			}
			doc, err := apiClient().Document(ctx, id, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.HTML)
			return nil
		}

		src, err := os.ReadFile(renderFile)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		doc, err := richtext.Parse(string(src))
		if err != nil {
			return err
		}
		var items []comments.Comment
		if renderComments != "" {
			if items, err = readComments(renderComments); err != nil {
				return err
			}
		}
		report := highlight.New().Pass(ctx, doc, items)
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), struct {
				HTML   string           `json:"html"`
				Report highlight.Report `json:"report"`
			}{doc.HTML(), report})
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.HTML())
		if len(report.Missing) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "not anchored: %v\n", report.Missing)
		}
		return nil
	},
}

func readComments(path string) ([]comments.Comment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []comments.Comment
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
		return items, nil
	}
	var list comments.List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return list.Comments, nil
}
