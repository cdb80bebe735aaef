package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/xxxsen/repoqa/internal/model"
)

//go:embed templates.yaml
var templatesYAML []byte

const (
	noHistory    = "No previous context. This is the start of the conversation."
	schemaFooter = "Return your answer strictly through the provided JSON schema, with no extra keys and no text outside it."
)

type Template struct {
	Name        string  `yaml:"-"`
	Content     string  `yaml:"content"`
	Temperature float32 `yaml:"temperature"`
}

type catalogueFile struct {
	Default   string              `yaml:"default"`
	Templates map[string]Template `yaml:"templates"`
}

// Catalogue maps question type tags to system prompt templates.
type Catalogue struct {
	fallback  string
	templates map[string]Template
}

func Load() (*Catalogue, error) {
	return Parse(templatesYAML)
}

func Parse(raw []byte) (*Catalogue, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	c := &Catalogue{fallback: strings.ToLower(file.Default), templates: make(map[string]Template, len(file.Templates))}
	for name, tpl := range file.Templates {
		tpl.Name = name
		c.templates[strings.ToLower(name)] = tpl
	}
	if _, ok := c.templates[c.fallback]; !ok {
		return nil, fmt.Errorf("default prompt template %q is not defined", file.Default)
	}
	return c, nil
}

// Select returns the template for tag. Unknown or empty tags get the default.
func (c *Catalogue) Select(tag string) Template {
	if tpl, ok := c.templates[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return tpl
	}
	return c.templates[c.fallback]
}

// SystemPrompt combines the template with the recent conversation.
func SystemPrompt(tpl Template, history []model.Message, maxTurns int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(tpl.Content))
	b.WriteString("\n\n")
	b.WriteString(schemaFooter)
	b.WriteString("\n\nPrevious conversation context:\n\n")
	b.WriteString(FormatHistory(history, maxTurns))
	return b.String()
}

// FormatHistory renders the last maxTurns messages, oldest first.
func FormatHistory(history []model.Message, maxTurns int) string {
	if len(history) == 0 {
		return noHistory
	}
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	parts := make([]string, 0, len(history))
	for _, msg := range history {
		parts = append(parts, strings.ToUpper(msg.Role)+": "+msg.Content)
	}
	return strings.Join(parts, "\n\n")
}

func FormatChunk(c model.Chunk) string {
	return fmt.Sprintf("FILE NAME: %s \nFILE: %s (lines %d-%d)\n---\n%s\n====", c.DeclarationName, c.FilePath, c.StartLine, c.EndLine, c.Content)
}

// BuildContext concatenates chunks in the given order until the next one
// would push the estimate past budget tokens. It returns the text and the
// chunks that made it in.
func BuildContext(chunks []model.Chunk, budget int) (string, []model.Chunk) {
	var b strings.Builder
	used := 0
	for _, c := range chunks {
		next := FormatChunk(c)
		if EstimateTokens(b.String()+next) > budget {
			break
		}
		b.WriteString(next)
		used++
	}
	return b.String(), chunks[:used]
}

func UserPrompt(context, tag, question string) string {
	if strings.TrimSpace(context) == "" {
		context = "(no code was retrieved for this question)"
	}
	return fmt.Sprintf(`Use the following pieces of context to answer the question at the end.

### CONTEXT ###
%s

### QUESTION TYPE ###
%s

### QUESTION ###
%s

Helpful answer:`, context, tag, question)
}

// EstimateTokens is the usual four characters per token rule of thumb.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}
