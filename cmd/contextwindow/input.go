package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	agentcontext "github.com/entrhq/contextwindow/pkg/agent/context"
	"github.com/entrhq/contextwindow/pkg/types"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// conversationDoc is the input document. A bare list of messages is also
// accepted. JSON parses as YAML.
type conversationDoc struct {
	// TotalTokens is the prior total excluding the last message.
	TotalTokens *int                    `yaml:"total_tokens,omitempty"`
	Summaries   agentcontext.SummaryMap `yaml:"summaries,omitempty"`
	Messages    []*types.Message        `yaml:"messages"`
}

// readSource reads path, or stdin when path is "-".
func readSource(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func loadConversation(stdin io.Reader, path string) (*conversationDoc, error) {
	raw, err := readSource(stdin, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	doc, err := decodeConversation(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conversation %s: %w", path, err)
	}
	return doc, nil
}

func decodeConversation(raw []byte) (*conversationDoc, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, errors.New("empty document")
	}

	doc := &conversationDoc{}
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&doc.Messages); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		if err := node.Decode(doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected a list of messages or a mapping, line %d", node.Line)
	}

	for i, msg := range doc.Messages {
		if msg == nil {
			return nil, fmt.Errorf("message %d is empty", i)
		}
		if msg.Role == "" {
			return nil, fmt.Errorf("message %d has no role", i)
		}
	}
	return doc, nil
}

func loadSummaryFile(stdin io.Reader, path string) (agentcontext.SummaryMap, error) {
	raw, err := readSource(stdin, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}
	var summaries agentcontext.SummaryMap
	if err := yaml.Unmarshal(raw, &summaries); err != nil {
		return nil, fmt.Errorf("failed to parse summaries %s: %w", path, err)
	}
	return summaries, nil
}

// loadSummaryDir reads one summary per file whose name matches pattern.
// The file name without its extension is the tagged-content id.
func loadSummaryDir(dir, pattern string) (agentcontext.SummaryMap, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid summary pattern '%s': %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary directory: %w", err)
	}

	summaries := make(agentcontext.SummaryMap)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !g.Match(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read summary %s: %w", name, err)
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		summaries[id] = strings.TrimSpace(string(data))
	}
	return summaries, nil
}

// summarySources are merged in order; later sources win.
type summarySources struct {
	file    string
	dir     string
	pattern string
}

func (s summarySources) load(stdin io.Reader, base agentcontext.SummaryMap) (agentcontext.SummaryMap, error) {
	merged := make(agentcontext.SummaryMap, len(base))
	for id, summary := range base {
		merged[id] = summary
	}

	if s.file != "" {
		fromFile, err := loadSummaryFile(stdin, s.file)
		if err != nil {
			return nil, err
		}
		for id, summary := range fromFile {
			merged[id] = summary
		}
	}
	if s.dir != "" {
		fromDir, err := loadSummaryDir(s.dir, s.pattern)
		if err != nil {
			return nil, err
		}
		for id, summary := range fromDir {
			merged[id] = summary
		}
	}
	return merged, nil
}
