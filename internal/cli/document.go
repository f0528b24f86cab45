// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/diff"
	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/functions"
	"github.com/jeranaias/casedesk/internal/server"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/markdown"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/util"
)

// surroundingRunes bounds the document text sent on each side of a draft
// cursor.
const surroundingRunes = 4000

// rewriteContextRunes bounds the text sent on each side of a rewritten
// passage.
const rewriteContextRunes = 1000

// loadDocument opens the database and makes the document active.
func loadDocument(ctx context.Context, a *app, id string) (*storage.DB, storage.Document, error) {
	if id == "" {
		return nil, storage.Document{}, ErrMissingArgument("doc", "--doc <document-id>")
	}
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, storage.Document{}, err
	}
	doc, err := db.GetDocument(ctx, id)
	if err != nil {
		return nil, storage.Document{}, err
	}
	a.store.ActiveCase.Set(doc.CaseID)
	a.store.OpenDocument(doc.ID, doc.Content)
	return db, doc, nil
}

// saveDocument stores doc even when the command was canceled, so streamed
// text that already landed is kept.
func saveDocument(ctx context.Context, db *storage.DB, doc storage.Document) error {
	_, err := db.SaveDocument(context.WithoutCancel(ctx), doc)
	return err
}

// streamInto streams a function's output into ins. The stream is stopped
// at the first insertion error, which is returned.
func streamInto(ctx context.Context, a *app, function string, payload any, ins *editor.Inserter, out *markdown.Stream) (functions.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once      sync.Once
		insertErr error
	)
	res := a.client.Run(ctx, function, payload, functions.Callbacks{
		OnChunk: func(text string) {
			if err := ins.Append(text); err != nil {
				once.Do(func() {
					insertErr = err
					cancel()
				})
				return
			}
			if out != nil {
				_, _ = out.WriteString(text)
			}
		},
	})
	if insertErr != nil {
		return res, insertErr
	}
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

// =============================================================================
// DRAFT
// =============================================================================

func newDraftCmd(flags *globalFlags) *cobra.Command {
	var (
		docID    string
		at       int
		conflict string
		quiet    bool
		params   paramFlags
	)
	cmd := &cobra.Command{
		Use:   "draft --doc ID [--at POS] instructions...",
		Short: "Stream AI-drafted text into a document at a cursor",
		Long: `Stream AI-drafted text into a document at a cursor.

The text around the cursor is sent as context. Each streamed chunk is
inserted where the previous one ended. --conflict decides what happens if
the document changes underneath the stream: "insert" keeps going at the
cursor, "reject" stops.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := params.params(cmd)
			if err != nil {
				return err
			}
			policy, err := editor.ParseConflictPolicy(cmpConflict(conflict, a.cfg.Functions.ConflictPolicy))
			if err != nil {
				return NewValidationError("conflict", conflict, err.Error())
			}
			db, doc, err := loadDocument(ctx, a, docID)
			if err != nil {
				return err
			}
			pos := at
			if !cmd.Flags().Changed("at") {
				pos = doc.Content.Len()
			}
			ins, err := editor.NewInserter(doc.Content, pos, policy)
			if err != nil {
				return err
			}

			before, _ := doc.Content.GetTextRange(max(0, pos-surroundingRunes), pos)
			after, _ := doc.Content.GetTextRange(pos, min(doc.Content.Len(), pos+surroundingRunes))
			payload := server.DraftRequest{
				Instructions: strings.Join(args, " "),
				Before:       before,
				After:        after,
				Params:       p,
			}

			var out *markdown.Stream
			if !quiet && !a.flags.jsonOutput {
				out = markdown.NewStream(a.stdout, a.renderer())
			}
			var res functions.Result
			runErr := a.run(ctx, "Drafting in "+util.TruncateRunes(doc.Title, 30), func(ctx context.Context, rep *tasks.Reporter) error {
				var err error
				res, err = streamInto(ctx, a, "draft", payload, ins, out)
				return err
			})
			if out != nil {
				_ = out.Close()
			}

			if ins.Written() > 0 {
				if err := saveDocument(ctx, db, doc); err != nil {
					return err
				}
			}
			start, end := ins.Range()
			pslog.Ctx(ctx).Debug("draft finished", "document", doc.ID, "start", start, "end", end, "finish", res.FinishReason)
			if runErr != nil {
				if ins.Written() > 0 {
					fmt.Fprintln(a.stderr, styles.RenderMuted(fmt.Sprintf("kept %d characters streamed before the failure", ins.Written())))
				}
				return runErr
			}
			if a.flags.jsonOutput {
				return printJSON(a.stdout, map[string]any{
					"document_id": doc.ID,
					"start":       start,
					"end":         end,
					"text":        res.FullResponse,
				})
			}
			fmt.Fprintln(a.stderr, styles.RenderSuccess(fmt.Sprintf("inserted %d characters at %d", ins.Written(), start)))
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document ID")
	cmd.Flags().IntVar(&at, "at", 0, "cursor offset in characters (default end of document)")
	cmd.Flags().StringVar(&conflict, "conflict", "", "concurrent edit policy: insert or reject (default from config)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not echo the drafted text")
	params.register(cmd)
	return cmd
}

func cmpConflict(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

// =============================================================================
// REWRITE
// =============================================================================

func newRewriteCmd(flags *globalFlags) *cobra.Command {
	var (
		docID    string
		from, to int
		params   paramFlags
	)
	cmd := &cobra.Command{
		Use:   "rewrite --doc ID --from A --to B instructions...",
		Short: "Replace a range of a document with a streamed rewrite",
		Long: `Replace the characters [A, B) of a document with a streamed rewrite.

If the rewrite fails the original passage is put back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := params.params(cmd)
			if err != nil {
				return err
			}
			db, doc, err := loadDocument(ctx, a, docID)
			if err != nil {
				return err
			}
			if err := doc.Content.SetSelection(from, to); err != nil {
				return err
			}
			original := doc.Content.SelectedText()
			if strings.TrimSpace(original) == "" {
				return NewValidationError("range", fmt.Sprintf("%d-%d", from, to), "selection is empty")
			}
			before, _ := doc.Content.GetTextRange(max(0, from-rewriteContextRunes), from)
			after, _ := doc.Content.GetTextRange(to, min(doc.Content.Len(), to+rewriteContextRunes))
			payload := server.RewriteRequest{
				Text:         original,
				Instructions: strings.Join(args, " "),
				Context:      strings.TrimSpace(before + "\n...\n" + after),
				Params:       p,
			}

			if err := doc.Content.DeleteRange(from, to); err != nil {
				return err
			}
			ins, err := editor.NewInserter(doc.Content, from, editor.ConflictReject)
			if err != nil {
				return err
			}
			var res functions.Result
			runErr := a.run(ctx, "Rewriting "+util.TruncateRunes(doc.Title, 30), func(ctx context.Context, rep *tasks.Reporter) error {
				var err error
				res, err = streamInto(ctx, a, "rewrite", payload, ins, nil)
				return err
			})
			if runErr != nil {
				start, end := ins.Range()
				if err := restore(doc.Content, start, end, original); err != nil {
					return errors.Join(runErr, err)
				}
				return runErr
			}
			if err := saveDocument(ctx, db, doc); err != nil {
				return err
			}
			start, end := ins.Range()
			redline := diff.Compute(original, res.FullResponse)
			if a.flags.jsonOutput {
				return printJSON(a.stdout, map[string]any{
					"document_id": doc.ID,
					"start":       start,
					"end":         end,
					"text":        res.FullResponse,
					"changes":     redline,
				})
			}
			fmt.Fprintln(a.stdout, redline.Render())
			fmt.Fprintln(a.stderr, styles.RenderSuccess(fmt.Sprintf("replaced characters %d-%d (%s)", from, to, redline.Summary())))
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document ID")
	cmd.Flags().IntVar(&from, "from", 0, "start offset in characters")
	cmd.Flags().IntVar(&to, "to", 0, "end offset in characters (exclusive)")
	_ = cmd.MarkFlagRequired("to")
	params.register(cmd)
	return cmd
}

// restore swaps a failed rewrite's partial output for the original text.
func restore(doc *editor.Document, start, end int, original string) error {
	if end > start {
		if err := doc.DeleteRange(start, end); err != nil {
			return err
		}
	}
	_, err := doc.InsertAt(start, original)
	return err
}

// =============================================================================
// ANALYZE
// =============================================================================

func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var (
		docID  string
		focus  string
		params paramFlags
	)
	cmd := &cobra.Command{
		Use:   "analyze --doc ID",
		Short: "Highlight risks and notable passages in a document",
		Long: `Highlight risks and notable passages in a document.

Findings are saved as an analysis of the document and as highlight marks
in its content, replacing the marks of any earlier analysis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := params.params(cmd)
			if err != nil {
				return err
			}
			db, doc, err := loadDocument(ctx, a, docID)
			if err != nil {
				return err
			}
			text := doc.Content.GetText()
			if strings.TrimSpace(text) == "" {
				return NewValidationError("doc", doc.ID, "document is empty")
			}

			var spans []editor.Span
			err = a.run(ctx, "Analyzing "+util.TruncateRunes(doc.Title, 30), func(ctx context.Context, rep *tasks.Reporter) error {
				return a.client.InvokeJSON(ctx, "analyze", server.AnalyzeRequest{Text: text, Focus: focus, Params: p}, &spans)
			})
			if err != nil {
				return err
			}
			spans = editor.ClampSpans(spans, doc.Content.Len())
			if err := doc.Content.ApplyAnalysis(spans); err != nil {
				return err
			}
			if err := saveDocument(ctx, db, doc); err != nil {
				return err
			}
			analysis, err := db.SaveAnalysis(ctx, storage.Analysis{
				DocumentID: doc.ID,
				Summary:    fmt.Sprintf("%d findings", len(spans)),
				Spans:      spans,
			})
			if err != nil {
				return err
			}

			if a.flags.jsonOutput {
				return printJSON(a.stdout, analysis)
			}
			printFindings(a, doc.Content, spans)
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "doc", "", "document ID")
	cmd.Flags().StringVar(&focus, "focus", "", "what to pay particular attention to")
	params.register(cmd)
	return cmd
}

func printFindings(a *app, doc *editor.Document, spans []editor.Span) {
	if len(spans) == 0 {
		fmt.Fprintln(a.stdout, styles.RenderSuccess("nothing flagged"))
		return
	}
	for i, s := range spans {
		quote, _ := doc.GetTextRange(s.Start, s.End)
		fmt.Fprintf(a.stdout, "%d. [%s] %q (%d-%d)\n", i+1, s.Label, util.TruncateRunes(quote, 80), s.Start, s.End)
		if s.Explanation != "" {
			fmt.Fprintf(a.stdout, "   %s\n", s.Explanation)
		}
	}
}
