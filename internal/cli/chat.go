// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/jeranaias/casedesk/internal/functions"
	"github.com/jeranaias/casedesk/internal/llm"
	"github.com/jeranaias/casedesk/internal/server"
	"github.com/jeranaias/casedesk/internal/sse"
	"github.com/jeranaias/casedesk/internal/storage"
	"github.com/jeranaias/casedesk/internal/tasks"
	"github.com/jeranaias/casedesk/internal/ui/console"
	"github.com/jeranaias/casedesk/internal/ui/markdown"
	"github.com/jeranaias/casedesk/internal/ui/styles"
	"github.com/jeranaias/casedesk/internal/util"
)

// =============================================================================
// COMMAND
// =============================================================================

type chatOptions struct {
	caseID         string
	conversationID string
	contextDoc     string
	interactive    bool
	params         paramFlags
}

// newChatCmd builds "chat" or "research"; they differ only in the function
// called and its payload.
func newChatCmd(flags *globalFlags, name string) *cobra.Command {
	opts := &chatOptions{}
	short := "Chat about a case with streamed answers"
	if name == "research" {
		short = "Research a legal question with cited sources"
	}
	cmd := &cobra.Command{
		Use:   name + " [prompt...]",
		Short: short,
		Long: short + `.

With --case the exchange is saved to a conversation in that case, and
--conversation continues an earlier one. Without a prompt, or with -i,
an interactive session reads one prompt per line until "exit" or EOF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			params, err := opts.params.params(cmd)
			if err != nil {
				return err
			}
			s, err := newChatSession(cmd.Context(), a, name, opts, params)
			if err != nil {
				return err
			}
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" || opts.interactive {
				return s.interactive(cmd.Context(), prompt)
			}
			return s.turn(cmd.Context(), prompt, a.stdout)
		},
	}
	cmd.Flags().StringVar(&opts.caseID, "case", "", "case to save the conversation in")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "conversation to continue")
	if name == "chat" {
		cmd.Flags().StringVar(&opts.contextDoc, "doc", "", "document whose text is given to the assistant")
	}
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "keep reading prompts from stdin")
	opts.params.register(cmd)
	return cmd
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession holds one conversation's history and, when persisted, its
// database record.
type chatSession struct {
	app      *app
	function string
	params   server.Params
	context  string
	history  []llm.Message
	db       *storage.DB
	conv     storage.Conversation
}

func newChatSession(ctx context.Context, a *app, function string, opts *chatOptions, params server.Params) (*chatSession, error) {
	s := &chatSession{app: a, function: function, params: params}

	if opts.caseID == "" && opts.conversationID == "" && opts.contextDoc == "" {
		return s, nil
	}
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db

	if opts.contextDoc != "" {
		doc, err := db.GetDocument(ctx, opts.contextDoc)
		if err != nil {
			return nil, err
		}
		s.context = doc.Content.GetText()
		a.store.ActiveCase.Set(doc.CaseID)
		a.store.OpenDocument(doc.ID, doc.Content)
	}

	switch {
	case opts.conversationID != "":
		conv, err := db.GetConversation(ctx, opts.conversationID)
		if err != nil {
			return nil, err
		}
		msgs, err := db.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			s.history = append(s.history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
		}
		s.conv = conv
		a.store.ActiveCase.Set(conv.CaseID)
	case opts.caseID != "":
		conv, err := db.CreateConversation(ctx, opts.caseID, function)
		if err != nil {
			return nil, err
		}
		s.conv = conv
		a.store.ActiveCase.Set(opts.caseID)
		pslog.Ctx(ctx).Debug("conversation started", "conversation", conv.ID, "case", opts.caseID)
	}
	return s, nil
}

// payload builds the request body for prompt given the history so far.
func (s *chatSession) payload(prompt string) any {
	history := append([]llm.Message(nil), s.history...)
	if s.function == "research" {
		return server.ResearchRequest{Query: prompt, Messages: history, Params: s.params}
	}
	return server.ChatRequest{Messages: history, Prompt: prompt, Context: s.context, Params: s.params}
}

// turn sends one prompt, streams the answer to w and records both sides of
// the exchange.
func (s *chatSession) turn(ctx context.Context, prompt string, w io.Writer) error {
	a := s.app
	stream := w
	if a.flags.jsonOutput {
		stream = io.Discard
	}
	out := markdown.NewStream(stream, a.renderer())

	var res functions.Result
	label := "Chat"
	if s.function == "research" {
		label = "Research"
	}
	err := a.run(ctx, label+": "+util.TruncateRunes(prompt, 40), func(ctx context.Context, rep *tasks.Reporter) error {
		res = a.client.Run(ctx, s.function, s.payload(prompt), functions.Callbacks{
			OnChunk: func(text string) {
				_, _ = out.WriteString(text)
			},
		})
		if !res.Success {
			return res.Err
		}
		return nil
	})
	_ = out.Close()
	if len(res.Sources) > 0 && !a.flags.jsonOutput {
		printSources(w, res.Sources)
	}

	// A canceled answer keeps what streamed so far.
	answer := res.FullResponse
	if err != nil && !(res.Canceled() && answer != "") {
		return err
	}
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: prompt},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	if perr := s.persist(ctx, prompt, answer, res.Sources); perr != nil {
		return perr
	}
	if a.flags.jsonOutput {
		return printJSON(w, map[string]any{
			"conversation_id": s.conv.ID,
			"response":        answer,
			"sources":         res.Sources,
			"finish_reason":   res.FinishReason,
		})
	}
	return err
}

func (s *chatSession) persist(ctx context.Context, prompt, answer string, sources []sse.Source) error {
	if s.conv.ID == "" {
		return nil
	}
	// The exchange is saved even when the turn's context was canceled.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.db.AppendMessage(ctx, s.conv.ID, storage.Message{Role: string(llm.RoleUser), Content: prompt}); err != nil {
		return err
	}
	_, err := s.db.AppendMessage(ctx, s.conv.ID, storage.Message{Role: string(llm.RoleAssistant), Content: answer, Sources: sources})
	return err
}

// interactive runs the console session on stdin and stdout. The console
// draws the task bar itself, so the status line is closed first. Finished
// tasks are swept in the background.
func (s *chatSession) interactive(ctx context.Context, first string) error {
	a := s.app
	if a.status != nil {
		a.status.Close()
		a.status = nil
	}
	sweepCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = a.store.Tasks.RunSweeper(sweepCtx, a.cfg.SweepInterval()) }()

	return console.Run(ctx, console.Options{
		Input:  a.stdin,
		Output: a.stdout,
		Tasks:  a.store.Tasks,
		Width:  terminalWidth(a.stdout),
		First:  first,
		Turn:   s.turn,
	})
}

// printSources lists research citations under an answer.
func printSources(w io.Writer, sources []sse.Source) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.RenderMuted("Sources:"))
	for i, src := range sources {
		label := src.Title
		if label == "" {
			label = src.URL
		}
		if src.URL != "" && src.URL != label {
			fmt.Fprintf(w, "  %d. %s - %s\n", i+1, label, src.URL)
		} else {
			fmt.Fprintf(w, "  %d. %s\n", i+1, label)
		}
	}
}
