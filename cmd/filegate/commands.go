package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"filegate/gateway/internal/agent"
	"filegate/gateway/internal/approval"
	"filegate/gateway/internal/diff"
	"filegate/gateway/internal/fsindex"
	"filegate/gateway/internal/gateway"
	"filegate/gateway/internal/project"
)

var (
	searchLimit  int
	promoteTo    string
	noOverwrite  bool
	diffTo       string
	askSaveAs    string
	stagedMaxLen int64
)

// invoke calls a gateway operation by name. A failed operation becomes an
// error whose text is the structured error payload.
func invoke(cmd *cobra.Command, method string, params map[string]any) (any, error) {
	handler, ok := current.gw.Handlers()[method]
	if !ok {
		return nil, fmt.Errorf("unknown operation %s", method)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	result, errInfo := handler(cmd.Context(), raw)
	if errInfo != nil {
		data, _ := json.Marshal(errInfo)
		return nil, fmt.Errorf("%s", data)
	}
	return result, nil
}

// render prints result as JSON or hands it to text when --output=text.
func render(w io.Writer, result any, text func(io.Writer)) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	text(w)
	return nil
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "ProjectsList", nil)
		if err != nil {
			return err
		}
		projects := result.(map[string]any)["projects"].([]project.Summary)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tALIASES")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", p.ID, p.Name, len(p.Aliases))
			}
			_ = tw.Flush()
		})
	},
}

func printEntries(w io.Writer, items []fsindex.Entry) {
	for _, item := range items {
		suffix := ""
		if item.Type == fsindex.TypeDir {
			suffix = "/"
		}
		fmt.Fprintln(w, item.Rel+suffix)
	}
}

var lsCmd = &cobra.Command{
	Use:   "ls <project> [path]",
	Short: "List a directory inside a project (the roots when path is empty)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"project_id": args[0]}
		if len(args) == 2 {
			params["path"] = args[1]
		}
		result, err := invoke(cmd, "FsList", params)
		if err != nil {
			return err
		}
		items := result.(map[string]any)["items"].([]fsindex.Entry)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) { printEntries(w, items) })
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <project> <query>",
	Short: "Search file and directory names across a project's roots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "FsSearch", map[string]any{"project_id": args[0], "q": args[1], "limit": searchLimit})
		if err != nil {
			return err
		}
		items := result.(map[string]any)["items"].([]fsindex.Entry)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) { printEntries(w, items) })
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <project> <path>",
	Short: "Preview a file inside a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "FileGet", map[string]any{"project_id": args[0], "path": args[1]})
		if err != nil {
			return err
		}
		preview := result.(*fsindex.Preview)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			if !preview.IsText {
				fmt.Fprintf(w, "%s (%s, %d bytes): %s\n", preview.Rel, preview.MIME, preview.Size, preview.Note)
				return
			}
			fmt.Fprint(w, preview.Content)
			if preview.Truncated {
				fmt.Fprintf(os.Stderr, "\n[truncated at preview limit; file is %d bytes]\n", preview.Size)
			}
		})
	},
}

var stagedCmd = &cobra.Command{
	Use:   "staged <project> <path>",
	Short: "Print a staged file as text",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "StagedRead", map[string]any{"project_id": args[0], "path": args[1], "max_bytes": stagedMaxLen})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			fmt.Fprint(w, result.(map[string]any)["content"])
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <project> <staged>",
	Short: "Diff a staged file against its destination in the final tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "StagedDiff", map[string]any{"project_id": args[0], "from_rel": args[1], "to_rel": diffTo})
		if err != nil {
			return err
		}
		patch := result.(*diff.Patch)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			if patch.Text == "" {
				fmt.Fprintf(w, "no changes between %s and %s\n", patch.From, patch.To)
				return
			}
			fmt.Fprintln(w, patch.Text)
			if patch.Truncated {
				fmt.Fprintln(w, "[diff truncated]")
			}
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <project> <staged>",
	Short: "Copy a staged file into the final tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "StagedPromote", map[string]any{
			"project_id": args[0],
			"from_rel":   args[1],
			"to_rel":     promoteTo,
			"overwrite":  !noOverwrite,
		})
		if err != nil {
			return err
		}
		record := result.(*approval.Record)
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			verb := "promoted"
			if record.Overwrote {
				verb = "promoted (overwrote)"
			}
			fmt.Fprintf(w, "%s %s -> %s\n", verb, record.Source, record.Destination)
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <project> <staged>",
	Short: "Delete a staged file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := invoke(cmd, "StagedDiscard", map[string]any{"project_id": args[0], "path": args[1]})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			fmt.Fprintf(w, "discarded %s\n", result.(map[string]any)["deleted"])
		})
	},
}

var mentionsCmd = &cobra.Command{
	Use:   "mentions <project> <text>",
	Short: "Resolve every @mention in text to a project path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		result, err := invoke(cmd, "MentionsResolve", map[string]any{"project_id": args[0], "text": text})
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			for _, m := range result.(map[string]any)["mentions"].([]gateway.MentionResult) {
				if m.ErrorCode != "" {
					fmt.Fprintf(w, "%s\t!%s\n", m.Token, m.ErrorCode)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", m.Token, m.Path)
			}
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <project> <prompt>",
	Short: "Run the agent against a project and stream its output",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		prompt := strings.Join(args[1:], " ")
		result, errInfo := current.gw.Ask(cmd.Context(), args[0], prompt, askSaveAs, func(ev agent.Event) {
			switch ev.Kind {
			case agent.EventChunk:
				if output == "text" {
					fmt.Fprint(out, ev.Text)
				}
			case agent.EventFileWritten:
				current.logger.Info("agent.file_written", "path", ev.Path)
			}
		})
		if errInfo != nil {
			data, _ := json.Marshal(errInfo)
			return fmt.Errorf("%s", data)
		}
		return render(out, result, func(w io.Writer) {
			fmt.Fprintln(w)
			for _, rel := range result.Meta.Written {
				fmt.Fprintf(w, "wrote @%s\n", rel)
			}
			if result.Meta.RequireApproval && len(result.Meta.Written) > 0 {
				fmt.Fprintf(w, "pending approval; promote into %s with `filegate promote`\n", result.Meta.FinalWriteDir)
			}
		})
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default from settings)")
	promoteCmd.Flags().StringVar(&promoteTo, "to", "", "Destination relative to the project (default: mirror under the final dir)")
	promoteCmd.Flags().BoolVar(&noOverwrite, "no-overwrite", false, "Fail when the destination exists")
	diffCmd.Flags().StringVar(&diffTo, "to", "", "Destination to compare against (default: mirror under the final dir)")
	stagedCmd.Flags().Int64Var(&stagedMaxLen, "max-bytes", 0, "Inline read limit (default from settings)")
	askCmd.Flags().StringVar(&askSaveAs, "save-as", "", "Also save the final answer into staging under this name")

	rootCmd.AddCommand(projectsCmd, lsCmd, searchCmd, catCmd, stagedCmd, diffCmd, promoteCmd, discardCmd, mentionsCmd, askCmd)
}
