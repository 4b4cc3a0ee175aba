package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// resolvePrompt implements prompt|prompt_file|prompt_template_file+vars:
// exactly one source is used, in that priority order.
func resolvePrompt(f *runtimeFlags) (string, error) {
	if f.prompt != "" {
		return f.prompt, nil
	}
	if f.promptFile != "" {
		data, err := os.ReadFile(f.promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return "", fmt.Errorf("prompt file %s is empty", f.promptFile)
		}
		return string(data), nil
	}
	if f.promptTemplateFile != "" {
		return renderPromptTemplate(f.promptTemplateFile, f.templateVars)
	}
	return "", fmt.Errorf("one of --prompt, --prompt-file, or --prompt-template-file is required")
}

// renderPromptTemplate parses path as a text/template and executes it
// against vars (each "key=value", duplicates overwrite earlier ones).
func renderPromptTemplate(path string, vars []string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template file: %w", err)
	}
	data := map[string]string{}
	for _, v := range vars {
		k, val, ok := strings.Cut(v, "=")
		if !ok {
			return "", fmt.Errorf("invalid --var %q, expected key=value", v)
		}
		data[k] = val
	}
	tmpl, err := template.New(path).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return out.String(), nil
}

// resolveSystemPrompt implements system_prompt|system_prompt_file.
func resolveSystemPrompt(f *runtimeFlags) (string, error) {
	if f.systemPrompt != "" {
		return f.systemPrompt, nil
	}
	if f.systemPromptFile != "" {
		data, err := os.ReadFile(f.systemPromptFile)
		if err != nil {
			return "", fmt.Errorf("read system prompt file: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}
