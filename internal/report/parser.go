package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser deserializes a rendered Summary.
type Parser interface {
	Parse(data []byte) (*Summary, error)
}

// JSONParser parses a JSON-encoded Summary.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse JSON summary: %w", err)
	}
	return &s, nil
}

// MarkdownParser recovers a Summary from the payload MarkdownRenderer embeds.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Summary, error) {
	content := string(data)
	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a pulse summary: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a pulse summary: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a pulse summary: malformed data payload")
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a pulse summary: corrupted payload: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(jsonBytes, &s); err != nil {
		return nil, fmt.Errorf("not a pulse summary: failed to parse embedded JSON: %w", err)
	}
	return &s, nil
}

// ParserFor picks a parser by file extension; anything not ending in .md is
// treated as JSON.
func ParserFor(name string) Parser {
	if strings.HasSuffix(strings.ToLower(name), ".md") {
		return &MarkdownParser{}
	}
	return &JSONParser{}
}

// RendererFor picks a renderer by file extension, as ParserFor.
func RendererFor(name string) Renderer {
	if strings.HasSuffix(strings.ToLower(name), ".md") {
		return &MarkdownRenderer{}
	}
	return &JSONRenderer{}
}
