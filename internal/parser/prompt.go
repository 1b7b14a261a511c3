/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/friendsincode/taskplanner/internal/models"
)

// DefaultSystemPrompt is used when no prompt file exists.
const DefaultSystemPrompt = "You are a task parsing assistant. Extract task information and return JSON."

// LoadSystemPrompt reads the prompt file, falling back to DefaultSystemPrompt
// when the file does not exist.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSystemPrompt, nil
		}
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

// BuildSystemPrompt appends the known spaces and an optional space hint.
func BuildSystemPrompt(base string, spaces []models.Space, spaceHint string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nAvailable spaces:\n")
	for i, s := range spaces {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- ID: %s, Name: %s, Description: %s", s.ID, s.Name, s.Description)
	}
	if hint := strings.TrimSpace(spaceHint); hint != "" {
		fmt.Fprintf(&b, "\n\nIMPORTANT: This task should be assigned to the '%s' space unless the user explicitly specifies a different space.", hint)
	}
	return b.String()
}
