// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"strings"
)

// ============================================================================
// SYSTEM PROMPTS
// ============================================================================

const chatBasePrompt = `You are a legal assistant working inside a case management workspace.
Answer precisely and cite the clause, statute or document you rely on when you can.
Say so plainly when the answer depends on facts you do not have or on the jurisdiction.
You do not give final legal advice; flag points a qualified lawyer must confirm.`

const researchSystemPrompt = `You are a legal research assistant.
Search for current, authoritative sources: legislation, case law, regulator guidance and reputable commentary.
Summarise what the sources say, note disagreements between them and give the jurisdiction of each authority.
Prefer primary sources over secondary ones.`

const draftSystemPrompt = `You draft legal documents.
Write only the text to insert at the cursor: no preamble, no explanations, no Markdown headings unless the surrounding document uses them.
Match the tone, defined terms, numbering and formatting of the surrounding text.`

const rewriteSystemPrompt = `You revise passages of legal documents.
Return only the rewritten passage, with no commentary and no quotation marks around it.
Keep defined terms, cross references and numbering intact unless the instructions say otherwise.`

const analyzeBasePrompt = `You review legal documents and flag passages that deserve attention: risks, ambiguities, unusual or one-sided terms, missing protections and deadlines.
Respond with a JSON array only. Each element is an object with:
  "quote": the exact passage copied verbatim from the document, short enough to be unique,
  "label": one of "risk", "ambiguity", "obligation", "deadline", "definition", "note",
  "explanation": one or two sentences on why the passage matters.
Return [] when nothing needs attention.`

func chatSystemPrompt(context string) string {
	if strings.TrimSpace(context) == "" {
		return chatBasePrompt
	}
	return chatBasePrompt + "\n\nCase material provided by the user:\n<context>\n" + context + "\n</context>"
}

func draftPrompt(req DraftRequest) string {
	var b strings.Builder
	if req.Before != "" || req.After != "" {
		b.WriteString("<document_before_cursor>\n")
		b.WriteString(req.Before)
		b.WriteString("\n</document_before_cursor>\n<document_after_cursor>\n")
		b.WriteString(req.After)
		b.WriteString("\n</document_after_cursor>\n\n")
	}
	b.WriteString("Instructions: ")
	b.WriteString(req.Instructions)
	return b.String()
}

func rewritePrompt(req RewriteRequest) string {
	var b strings.Builder
	if req.Context != "" {
		fmt.Fprintf(&b, "<context>\n%s\n</context>\n\n", req.Context)
	}
	fmt.Fprintf(&b, "<passage>\n%s\n</passage>\n\nInstructions: %s", req.Text, req.Instructions)
	return b.String()
}

var summaryLengths = map[string]string{
	"short":  "in at most three sentences",
	"medium": "in one or two paragraphs",
	"long":   "section by section, with a short heading per section",
}

func summaryLength(s string) (string, error) {
	if s == "" {
		s = "medium"
	}
	guide, ok := summaryLengths[strings.ToLower(s)]
	if !ok {
		return "", fmt.Errorf("length must be short, medium or long, got %q", s)
	}
	return guide, nil
}

func summarizeSystemPrompt(length string) string {
	return "You summarise legal documents for lawyers. Summarise the document " + length +
		". Cover the parties, the key obligations, money, dates and termination rights. Do not invent terms that are not in the text."
}

func translateSystemPrompt(source, target string) string {
	from := "the source language"
	if source != "" {
		from = source
	}
	return fmt.Sprintf("You are a certified legal translator. Translate the text from %s into %s. "+
		"Preserve the legal meaning, numbering and formatting. Keep defined terms consistent and leave proper names untranslated. "+
		"Return only the translation.", from, target)
}

func analyzeSystemPrompt(focus string) string {
	if strings.TrimSpace(focus) == "" {
		return analyzeBasePrompt
	}
	return analyzeBasePrompt + "\nPay particular attention to: " + focus
}
