// Package ai turns writing-assist requests into LLM prompts.
package ai

import (
	"context"
	"errors"
	"strings"
)

const (
	ActionGenerate  = "generate"
	ActionImprove   = "improve"
	ActionSummarize = "summarize"
	ActionTitle     = "title"
	ActionContinue  = "continue"
	ActionTags      = "tags"

	MaxPromptLength  = 4000
	MaxContextLength = 8000
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrEmptyResponse = errors.New("empty response from model")
)

var instructions = map[string]string{
	ActionGenerate: "You are a writing assistant for a blogging platform. Write a well-structured blog section " +
		"based on the user's request. Use short paragraphs and plain prose. Do not add a preamble.",
	ActionImprove: "You are an editor. Rewrite the user's text to be clearer and more engaging while keeping " +
		"its meaning, voice and approximate length. Return only the rewritten text.",
	ActionSummarize: "Summarize the user's text in two or three sentences suitable as a blog post excerpt. " +
		"Return only the summary.",
	ActionTitle: "Suggest five concise, catchy titles for a blog post about the user's text. Return one title " +
		"per line without numbering or quotes.",
	ActionContinue: "Continue the user's blog draft for one or two paragraphs in the same tone and style. " +
		"Return only the continuation.",
	ActionTags: "Suggest up to eight short lowercase tags for a blog post about the user's text. Return them " +
		"as a comma-separated list and nothing else.",
}

type Request struct {
	Action  string
	Prompt  string
	Context string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// NormalizeAction maps an empty action to ActionGenerate and rejects unknown ones.
func NormalizeAction(action string) (string, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return ActionGenerate, nil
	}
	if _, ok := instructions[action]; !ok {
		return "", ErrUnknownAction
	}
	return action, nil
}

// Instruction returns the system instruction for a normalized action.
func Instruction(action string) string {
	return instructions[action]
}

// UserPrompt joins the optional draft context and the prompt into the user turn.
func UserPrompt(req Request) string {
	if strings.TrimSpace(req.Context) == "" {
		return req.Prompt
	}
	var b strings.Builder
	b.WriteString("Existing draft:\n\"\"\"\n")
	b.WriteString(req.Context)
	b.WriteString("\n\"\"\"\n\nRequest:\n")
	b.WriteString(req.Prompt)
	return b.String()
}
