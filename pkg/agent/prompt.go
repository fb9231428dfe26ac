// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"strings"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/toolbox"
)

// DefaultSystemPrompt frames the model as a desktop agent that acts through
// one command per reply.
const DefaultSystemPrompt = `You are Oracle, an agent running on the user's computer.
Answer questions directly. When the user asks you to do something on the computer,
reply with exactly one command on its own line, written as:
[CMD] command_name("first argument", "second argument")
Use only the commands listed below, quote every argument, and never issue more
than one command in a reply. If no command fits, answer in plain words.`

// ContextBundle is what the agent gathered for one request.
type ContextBundle struct {
	Memories []string
	// Snapshot is the text read from the screen, if a capture was pending.
	Snapshot *string
	Persona  string
}

// PromptInput carries every section of a compiled prompt.
type PromptInput struct {
	SystemPrompt string
	Instructions string
	Tools        string
	Context      ContextBundle
	UserInput    string
}

// Compile renders the inference prompt. Empty sections are left out.
func Compile(in PromptInput) string {
	var b strings.Builder
	section := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if title != "" {
			b.WriteString(title)
			b.WriteString(":\n")
		}
		b.WriteString(body)
	}

	system := in.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	section("", system)
	section("House rules", in.Instructions)
	section("Available commands", in.Tools)
	section("", in.Context.Persona)
	if len(in.Context.Memories) > 0 {
		section("Relevant past conversations", bullets(in.Context.Memories))
	}
	if in.Context.Snapshot != nil {
		text := strings.TrimSpace(*in.Context.Snapshot)
		if text == "" {
			text = "(no readable text on screen)"
		}
		section("Text currently on the user's screen", text)
	}
	section("", "User: "+strings.TrimSpace(in.UserInput)+"\nAssistant:")
	return b.String()
}

// narrationPrompt asks the model to tell the user what a directive did.
func narrationPrompt(system, persona, input string, d directive.Directive, res toolbox.Result) string {
	var b strings.Builder
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	b.WriteString(firstParagraph(system))
	if persona != "" {
		b.WriteString("\n\n")
		b.WriteString(persona)
	}
	fmt.Fprintf(&b, "\n\nThe user said: %s\n", strings.TrimSpace(input))
	fmt.Fprintf(&b, "You ran %s and it reported (%s): %s\n", directive.Format(d), res.Status, res.Message)
	b.WriteString("Tell the user what happened in one or two sentences. Mention any file or folder path exactly as reported. Do not write any command.")
	return b.String()
}

// repairPrompt asks the model for a remediation suggestion after a failure.
func repairPrompt(input string, cause error) string {
	return fmt.Sprintf(`Something went wrong while handling a request on the user's computer.
Request: %s
Error: %v
Suggest in one or two plain sentences what the user can try next. Do not write any command.`,
		strings.TrimSpace(input), cause)
}

func bullets(items []string) string {
	var b strings.Builder
	for _, it := range items {
		if it = strings.TrimSpace(it); it == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
