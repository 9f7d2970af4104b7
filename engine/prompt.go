package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// loadPrompt parses the prompt template in dir. An empty name means the
// question is sent as-is.
func loadPrompt(dir, name string) (*template.Template, error) {
	if name == "" {
		return nil, nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return template.New(filepath.Base(name)).Option("missingkey=error").Parse(string(data))
}

// render builds the user prompt for it. Templates see the record fields plus
// id and question.
func (s *server) render(it Item) (string, error) {
	if s.prompt == nil {
		return it.Question, nil
	}
	data := make(map[string]any, len(it.Fields)+2)
	for k, v := range it.Fields {
		data[k] = v
	}
	data["id"] = it.ID
	data["question"] = it.Question
	var buf bytes.Buffer
	if err := s.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
