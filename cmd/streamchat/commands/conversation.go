package commands

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/aschepis/backscratcher/streamchat/llm"
	llmanthropic "github.com/aschepis/backscratcher/streamchat/llm/anthropic"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = "You are a helpful assistant."

// conversationFile is a conversation saved as YAML:
//
//	id: trip-planning
//	system: You are a travel agent.
//	turns:
//	  - role: user
//	    content: Where should I go in May?
//	    images: [map.png]
//	  - role: assistant
//	    content: Somewhere warm.
type conversationFile struct {
	ID     string      `yaml:"id,omitempty"`
	System string      `yaml:"system,omitempty"`
	Turns  []turnEntry `yaml:"turns,omitempty"`
}

type turnEntry struct {
	Role    string   `yaml:"role"`
	Content string   `yaml:"content,omitempty"`
	Images  []string `yaml:"images,omitempty"` // paths relative to the conversation file
}

// loadConversation reads a conversation file. An empty path yields an empty
// conversation.
func loadConversation(path string) (*conversationFile, string, error) {
	if path == "" {
		return &conversationFile{}, ".", nil
	}
	data, err := os.ReadFile(path) //#nosec 304 -- user-supplied conversation file
	if err != nil {
		return nil, "", fmt.Errorf("failed to read conversation %q: %w", path, err)
	}
	var conv conversationFile
	if err := yaml.Unmarshal(data, &conv); err != nil {
		return nil, "", fmt.Errorf("failed to parse conversation %q: %w", path, err)
	}
	return &conv, filepath.Dir(path), nil
}

// buildTurns turns the file into a turn list starting with the system turn,
// with prompt appended as a final user turn when it is not empty.
func buildTurns(conv *conversationFile, baseDir, prompt string) ([]llm.Turn, error) {
	system := conv.System
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	turns := []llm.Turn{llm.NewTextTurn(llm.RoleSystem, system)}

	for i, entry := range conv.Turns {
		role := llm.MessageRole(strings.ToLower(strings.TrimSpace(entry.Role)))
		if len(entry.Images) == 0 {
			turns = append(turns, llm.NewTextTurn(role, entry.Content))
			continue
		}

		var parts []llm.ContentPart
		if entry.Content != "" {
			parts = append(parts, llm.NewTextPart(entry.Content))
		}
		for _, p := range entry.Images {
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			part, err := loadImage(p)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i+1, err)
			}
			parts = append(parts, part)
		}
		turns = append(turns, llm.Turn{Role: role, Content: llm.PartList(parts...)})
	}

	if prompt = strings.TrimSpace(prompt); prompt != "" {
		turns = append(turns, llm.NewTextTurn(llm.RoleUser, prompt))
	}
	return turns, nil
}

// loadImage decodes an image file and re-encodes it as a PNG part.
func loadImage(path string) (llm.ContentPart, error) {
	f, err := os.Open(path) //#nosec 304 -- user-supplied image path
	if err != nil {
		return llm.ContentPart{}, fmt.Errorf("failed to open image %q: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	img, _, err := image.Decode(f)
	if err != nil {
		return llm.ContentPart{}, fmt.Errorf("failed to decode image %q: %w", path, err)
	}
	return llmanthropic.FormatImage(img)
}
