// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/casedesk/internal/editor"
	"github.com/jeranaias/casedesk/internal/server"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/util"
)

// sourceFlags selects the text a one-shot function works on.
type sourceFlags struct {
	docID string
	file  string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.docID, "doc", "", "use the content of a stored document")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the text from a file (- for stdin)")
}

// text returns the selected text and, for --doc, the document it came from.
func (f *sourceFlags) text(ctx context.Context, a *app, args []string) (string, *storage.Document, error) {
	if f.docID != "" {
		if f.file != "" || len(args) > 0 {
			return "", nil, NewValidationError("doc", f.docID, "--doc cannot be combined with --file or text arguments")
		}
		_, doc, err := loadDocument(ctx, a, f.docID)
		if err != nil {
			return "", nil, err
		}
		return doc.Content.GetText(), &doc, nil
	}
	text, err := inputText(args, f.file, a.stdin)
	if err != nil {
		return "", nil, err
	}
	return text, nil, nil
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{
			Field:   "text",
			Reason:  "no text to work on",
			Example: "casedesk summarize --doc <id>, --file contract.txt or piped input",
		}
	}
	if n := len([]rune(text)); n > server.MaxTextLength {
		return NewValidationError("text", fmt.Sprintf("%d characters", n), fmt.Sprintf("must be at most %d characters", server.MaxTextLength))
	}
	return nil
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func newSummarizeCmd(flags *globalFlags) *cobra.Command {
	var (
		src    sourceFlags
		length string
		params paramFlags
	)
	cmd := &cobra.Command{
		Use:   "summarize [text...]",
		Short: "Summarize a document or text",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch strings.ToLower(length) {
			case "short", "medium", "long":
			default:
				return NewValidationError("length", length, "must be short, medium or long")
			}
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := params.params(cmd)
			if err != nil {
				return err
			}
			text, doc, err := src.text(ctx, a, args)
			if err != nil {
				return err
			}
			if err := checkText(text); err != nil {
				return err
			}

			var summary string
			err = a.run(ctx, "Summarizing "+describeSource(doc, text), func(ctx context.Context, rep *tasks.Reporter) error {
				var err error
				summary, err = a.client.Invoke(ctx, "summarize", server.SummarizeRequest{Text: text, Length: length, Params: p})
				return err
			})
			if err != nil {
				return err
			}
			return printResult(a, "summary", summary, doc)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&length, "length", "medium", "summary length: short, medium or long")
	params.register(cmd)
	return cmd
}

// =============================================================================
// TRANSLATE
// =============================================================================

func newTranslateCmd(flags *globalFlags) *cobra.Command {
	var (
		src    sourceFlags
		target string
		source string
		saveAs string
		params paramFlags
	)
	cmd := &cobra.Command{
		Use:   "translate --to LANGUAGE [text...]",
		Short: "Translate a document or text",
		Long: `Translate a document or text.

With --doc and --save-as the translation is stored as a new document in
the same case.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if strings.TrimSpace(target) == "" {
				return ErrMissingArgument("to", "casedesk translate --to French --doc <id>")
			}
			if saveAs != "" && src.docID == "" {
				return NewValidationError("save-as", saveAs, "requires --doc")
			}
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := params.params(cmd)
			if err != nil {
				return err
			}
			text, doc, err := src.text(ctx, a, args)
			if err != nil {
				return err
			}
			if err := checkText(text); err != nil {
				return err
			}

			var translation string
			err = a.run(ctx, fmt.Sprintf("Translating %s to %s", describeSource(doc, text), target), func(ctx context.Context, rep *tasks.Reporter) error {
				var err error
				translation, err = a.client.Invoke(ctx, "translate", server.TranslateRequest{Text: text, Target: target, Source: source, Params: p})
				return err
			})
			if err != nil {
				return err
			}

			if saveAs != "" {
				db, err := a.openDB(ctx)
				if err != nil {
					return err
				}
				saved, err := db.SaveDocument(ctx, storage.Document{
					CaseID:  doc.CaseID,
					Title:   saveAs,
					Content: editor.NewDocument(translation),
				})
				if err != nil {
					return err
				}
				if !a.flags.jsonOutput {
					fmt.Fprintln(a.stderr, styles.RenderSuccess("saved as document "+saved.ID))
				}
				doc = &saved
			}
			return printResult(a, "translation", translation, doc)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&target, "to", "", "target language")
	cmd.Flags().StringVar(&source, "from", "", "source language (detected when empty)")
	cmd.Flags().StringVar(&saveAs, "save-as", "", "store the translation as a new document with this title")
	params.register(cmd)
	return cmd
}

func describeSource(doc *storage.Document, text string) string {
	if doc != nil {
		return util.TruncateRunes(doc.Title, 30)
	}
	return fmt.Sprintf("%d characters", len([]rune(text)))
}

func printResult(a *app, field, text string, doc *storage.Document) error {
	if a.flags.jsonOutput {
		out := map[string]any{field: text}
		if doc != nil {
			out["document_id"] = doc.ID
		}
		return printJSON(a.stdout, out)
	}
	fmt.Fprintln(a.stdout, a.renderer().Render(text))
	return nil
}
