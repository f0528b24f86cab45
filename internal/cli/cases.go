// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/casedesk/internal/editor"
	exportpkg "github.com/jeranaias/casedesk/internal/export"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/util"
)

// withDB runs fn with an app whose database is open.
func withDB(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app, db *storage.DB) error) error {
	a, err := newApp(cmd, flags)
	if err != nil {
		return err
	}
	defer a.Close()
	db, err := a.openDB(cmd.Context())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), a, db)
}

// =============================================================================
// CASES
// =============================================================================

func newCaseCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "case",
		Aliases: []string{"cases"},
		Short:   "Manage cases",
	}

	var client string
	create := &cobra.Command{
		Use:   "create TITLE...",
		Short: "Create a case",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				c, err := db.CreateCase(ctx, storage.Case{Title: strings.Join(args, " "), Client: client})
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return printJSON(a.stdout, c)
				}
				fmt.Fprintln(a.stdout, c.ID)
				fmt.Fprintln(a.stderr, styles.RenderSuccess("created case "+c.Title))
				return nil
			})
		},
	}
	create.Flags().StringVar(&client, "client", "", "client name")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cases, most recently active first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				cases, err := db.ListCases(ctx)
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return printJSON(a.stdout, nonNil(cases))
				}
				if len(cases) == 0 {
					fmt.Fprintln(a.stdout, styles.RenderMuted("no cases yet: casedesk case create <title>"))
					return nil
				}
				t := newTable(a.stdout, "ID", "TITLE", "CLIENT", "UPDATED")
				for _, c := range cases {
					t.row(c.ID, util.TruncateWidth(c.Title, 40), c.Client, ago(c.UpdatedAt))
				}
				return t.flush()
			})
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a case with its documents, conversations and uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				return showCase(ctx, a, db, args[0])
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a case with everything in it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				id := args[0]
				if err := db.DeleteCase(ctx, id); err != nil {
					return err
				}
				blobs, err := a.openBlobs()
				if err != nil {
					return err
				}
				infos, err := blobs.List(id + "/")
				if err != nil {
					return err
				}
				var errs []error
				for _, b := range infos {
					errs = append(errs, blobs.Delete(b.Key))
				}
				if err := errors.Join(errs...); err != nil {
					return fmt.Errorf("case deleted but some uploads remain: %w", err)
				}
				if !a.flags.jsonOutput {
					fmt.Fprintln(a.stderr, styles.RenderSuccess("deleted case "+id))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, show, del)
	return cmd
}

// caseDetail is the JSON form of case show.
type caseDetail struct {
	storage.Case
	Documents     []storage.DocumentMeta     `json:"documents"`
	Conversations []storage.ConversationMeta `json:"conversations"`
	Uploads       []storage.BlobInfo         `json:"uploads"`
}

func showCase(ctx context.Context, a *app, db *storage.DB, id string) error {
	c, err := db.GetCase(ctx, id)
	if err != nil {
		return err
	}
	docs, err := db.ListDocuments(ctx, id)
	if err != nil {
		return err
	}
	convs, err := db.ListConversations(ctx, id, "")
	if err != nil {
		return err
	}
	blobs, err := a.openBlobs()
	if err != nil {
		return err
	}
	uploads, err := blobs.List(id + "/")
	if err != nil {
		return err
	}

	if a.flags.jsonOutput {
		return printJSON(a.stdout, caseDetail{
			Case:          c,
			Documents:     nonNil(docs),
			Conversations: nonNil(convs),
			Uploads:       nonNil(uploads),
		})
	}

	fmt.Fprintf(a.stdout, "%s\n", c.Title)
	if c.Client != "" {
		fmt.Fprintf(a.stdout, "Client:  %s\n", c.Client)
	}
	fmt.Fprintf(a.stdout, "Created: %s\n", ago(c.CreatedAt))

	fmt.Fprintf(a.stdout, "\nDocuments (%d)\n", len(docs))
	if len(docs) > 0 {
		t := newTable(a.stdout, "ID", "TITLE", "LENGTH", "UPDATED")
		for _, d := range docs {
			t.row(d.ID, util.TruncateWidth(d.Title, 40), humanize.Comma(int64(d.Length)), ago(d.UpdatedAt))
		}
		if err := t.flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.stdout, "\nConversations (%d)\n", len(convs))
	if len(convs) > 0 {
		t := newTable(a.stdout, "ID", "TYPE", "MESSAGES", "SUMMARY", "UPDATED")
		for _, cv := range convs {
			t.row(cv.ID, cv.Endpoint, fmt.Sprint(cv.MessageCount), util.TruncateWidth(cv.Summary, 40), ago(cv.UpdatedAt))
		}
		if err := t.flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.stdout, "\nUploads (%d)\n", len(uploads))
	if len(uploads) > 0 {
		t := newTable(a.stdout, "KEY", "SIZE", "MODIFIED")
		for _, u := range uploads {
			t.row(u.Key, humanize.Bytes(uint64(u.Size)), ago(u.ModTime))
		}
		return t.flush()
	}
	return nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func newDocCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doc",
		Aliases: []string{"docs", "document"},
		Short:   "Manage case documents",
	}

	var (
		caseID string
		title  string
	)
	create := &cobra.Command{
		Use:   "new --case ID [FILE]",
		Short: "Create a document, empty or from a text file (- for stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" {
				return ErrMissingArgument("case", "casedesk doc new --case <case-id> contract.md")
			}
			var text string
			if len(args) == 1 {
				var err error
				if text, err = inputText(nil, args[0], cmd.InOrStdin()); err != nil {
					return err
				}
				if title == "" && args[0] != "-" {
					title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
			}
			if title == "" {
				return ErrMissingArgument("title", "casedesk doc new --case <case-id> --title \"Engagement letter\"")
			}
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				doc, err := db.SaveDocument(ctx, storage.Document{
					CaseID:  caseID,
					Title:   title,
					Content: editor.NewDocument(text),
				})
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return printJSON(a.stdout, doc)
				}
				fmt.Fprintln(a.stdout, doc.ID)
				fmt.Fprintln(a.stderr, styles.RenderSuccess(fmt.Sprintf("created %s (%s characters)", doc.Title, humanize.Comma(int64(doc.Content.Len())))))
				return nil
			})
		},
	}
	create.Flags().StringVar(&caseID, "case", "", "case the document belongs to")
	create.Flags().StringVar(&title, "title", "", "document title (default file name)")

	var listCase string
	list := &cobra.Command{
		Use:     "list --case ID",
		Aliases: []string{"ls"},
		Short:   "List a case's documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listCase == "" {
				return ErrMissingArgument("case", "casedesk doc list --case <case-id>")
			}
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				docs, err := db.ListDocuments(ctx, listCase)
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return printJSON(a.stdout, nonNil(docs))
				}
				t := newTable(a.stdout, "ID", "TITLE", "LENGTH", "UPDATED")
				for _, d := range docs {
					t.row(d.ID, util.TruncateWidth(d.Title, 40), humanize.Comma(int64(d.Length)), ago(d.UpdatedAt))
				}
				return t.flush()
			})
		},
	}
	list.Flags().StringVar(&listCase, "case", "", "case to list")

	var withAnalyses bool
	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a document with its highlighted findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				doc, err := db.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				var analyses []storage.Analysis
				if withAnalyses {
					if analyses, err = db.ListAnalyses(ctx, doc.ID); err != nil {
						return err
					}
				}
				if a.flags.jsonOutput {
					out := map[string]any{"document": doc}
					if withAnalyses {
						out["analyses"] = nonNil(analyses)
					}
					return printJSON(a.stdout, out)
				}
				fmt.Fprintln(a.stdout, doc.Content.GetText())
				marks := doc.Content.MarksOfKind(editor.MarkAnalysis)
				if len(marks) > 0 {
					fmt.Fprintf(a.stdout, "\nFindings (%d)\n", len(marks))
					spans := make([]editor.Span, 0, len(marks))
					for _, m := range marks {
						spans = append(spans, editor.Span{Start: m.Start, End: m.End, Label: m.Attrs["label"], Explanation: m.Attrs["explanation"]})
					}
					printFindings(a, doc.Content, spans)
				}
				for _, an := range analyses {
					fmt.Fprintf(a.stdout, "\nAnalysis %s, %s: %s\n", an.ID, ago(an.CreatedAt), an.Summary)
				}
				return nil
			})
		},
	}
	show.Flags().BoolVar(&withAnalyses, "analyses", false, "also list earlier analyses")

	var output string
	export := &cobra.Command{
		Use:   "export ID",
		Short: "Write a document's text to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				doc, err := db.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return writeOutput(a, output, doc.Content.GetText())
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")

	del := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a document and its analyses",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				if err := db.DeleteDocument(ctx, args[0]); err != nil {
					return err
				}
				if !a.flags.jsonOutput {
					fmt.Fprintln(a.stderr, styles.RenderSuccess("deleted document "+args[0]))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, show, export, del)
	return cmd
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func newConversationCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conversations", "conv"},
		Short:   "Browse saved chat and research conversations",
	}

	var (
		caseID string
		query  string
	)
	list := &cobra.Command{
		Use:     "list --case ID",
		Aliases: []string{"ls"},
		Short:   "List a case's conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" {
				return ErrMissingArgument("case", "casedesk conversation list --case <case-id>")
			}
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				convs, err := db.ListConversations(ctx, caseID, query)
				if err != nil {
					return err
				}
				if a.flags.jsonOutput {
					return printJSON(a.stdout, nonNil(convs))
				}
				t := newTable(a.stdout, "ID", "TYPE", "MESSAGES", "PREVIEW", "UPDATED")
				for _, c := range convs {
					t.row(c.ID, c.Endpoint, fmt.Sprint(c.MessageCount), util.TruncateWidth(c.Preview, 50), ago(c.UpdatedAt))
				}
				return t.flush()
			})
		},
	}
	list.Flags().StringVar(&caseID, "case", "", "case to list")
	list.Flags().StringVar(&query, "search", "", "only conversations with a message containing this text")

	var (
		output, format, theme string
		noTimestamps          bool
	)
	export := &cobra.Command{
		Use:   "export ID",
		Short: "Export a conversation as Markdown, HTML or JSON",
		Long: `Export a conversation transcript.

With -o DIR/ the file name is chosen from the conversation summary and date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonOutput {
				format = "json"
			}
			opts := exportpkg.DefaultOptions()
			opts.IncludeTimestamps = !noTimestamps
			opts.Theme = theme
			exporter, err := exportpkg.ForFormat(format, opts)
			if err != nil {
				return &ValidationError{Field: "format", Value: format, Reason: "unsupported export format",
					Example: "casedesk conversation export ID --format " + strings.Join(exportpkg.Formats, "|")}
			}
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				conv, err := db.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				msgs, err := db.ListMessages(ctx, conv.ID)
				if err != nil {
					return err
				}
				transcript := exportpkg.Transcript{Conversation: conv, Messages: msgs}
				out, err := exporter.Export(transcript)
				if err != nil {
					return err
				}
				path := output
				if path != "" && (strings.HasSuffix(path, "/") || isDir(path)) {
					path = filepath.Join(path, exportpkg.FileName(transcript, exporter))
				}
				return writeOutput(a, path, string(out))
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "write to this file or directory instead of stdout")
	export.Flags().StringVar(&format, "format", "md", "output format: "+strings.Join(exportpkg.Formats, ", "))
	export.Flags().StringVar(&theme, "theme", "light", "HTML theme: light or dark")
	export.Flags().BoolVar(&noTimestamps, "no-timestamps", false, "leave out message times")

	del := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, flags, func(ctx context.Context, a *app, db *storage.DB) error {
				if err := db.DeleteConversation(ctx, args[0]); err != nil {
					return err
				}
				if !a.flags.jsonOutput {
					fmt.Fprintln(a.stderr, styles.RenderSuccess("deleted conversation "+args[0]))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, export, del)
	return cmd
}

// writeOutput writes text to path atomically, or to stdout when path is "".
func writeOutput(a *app, path, text string) error {
	if path == "" {
		_, err := fmt.Fprint(a.stdout, text)
		if err == nil && !strings.HasSuffix(text, "\n") {
			_, err = fmt.Fprintln(a.stdout)
		}
		return err
	}
	if err := util.AtomicWriteFile(path, []byte(text), 0o644); err != nil {
		return err
	}
	if !a.flags.jsonOutput {
		fmt.Fprintln(a.stderr, styles.RenderSuccess("wrote "+path))
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// nonNil keeps empty lists as [] in JSON output.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
