package commands

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/aschepis/backscratcher/streamchat/llm/stream"
	"github.com/aschepis/backscratcher/streamchat/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestBuildTurnsFromFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "dot.png"))
	path := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: trip
system: You are a travel agent.
turns:
  - role: user
    content: What is in this picture?
    images: [dot.png]
  - role: Assistant
    content: A red dot.
`), 0o600))

	conv, baseDir, err := loadConversation(path)
	require.NoError(t, err)
	assert.Equal(t, "trip", conv.ID)

	turns, err := buildTurns(conv, baseDir, "  and now?  ")
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, llm.NewTextTurn(llm.RoleSystem, "You are a travel agent."), turns[0])

	parts, ok := turns[1].Content.Parts()
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "What is in this picture?", parts[0].Text)
	assert.Equal(t, llm.ContentPartTypeImage, parts[1].Type)
	assert.Equal(t, "image/png", parts[1].MediaType)
	assert.NotEmpty(t, parts[1].Data)

	assert.Equal(t, llm.RoleAssistant, turns[2].Role)
	assert.Equal(t, llm.NewTextTurn(llm.RoleUser, "and now?"), turns[3])
}

func TestBuildTurnsDefaults(t *testing.T) {
	conv, baseDir, err := loadConversation("")
	require.NoError(t, err)

	turns, err := buildTurns(conv, baseDir, "hello")
	require.NoError(t, err)
	assert.Equal(t, []llm.Turn{
		llm.NewTextTurn(llm.RoleSystem, defaultSystemPrompt),
		llm.NewTextTurn(llm.RoleUser, "hello"),
	}, turns)
}

func TestBuildTurnsMissingImage(t *testing.T) {
	conv := &conversationFile{Turns: []turnEntry{{Role: "user", Images: []string{"nope.png"}}}}
	_, err := buildTurns(conv, t.TempDir(), "")
	assert.Error(t, err)
}

func TestLoadConversationErrors(t *testing.T) {
	_, _, err := loadConversation(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("turns: {"), 0o600))
	_, _, err = loadConversation(path)
	assert.Error(t, err)
}

func TestPrintFragments(t *testing.T) {
	events := []llm.StreamEvent{
		llm.BlockStart(llm.BlockKindText),
		llm.BlockDelta(llm.BlockKindText, "hello "),
		llm.BlockDelta(llm.BlockKindText, "world"),
		llm.BlockStop(),
	}
	var out bytes.Buffer
	r := stream.NewReducer(context.Background(), llm.NewSliceStream(events, nil), stream.Options{}, zerolog.Nop())
	require.NoError(t, printFragments(&out, r))
	assert.Equal(t, "hello world\n", out.String())

	out.Reset()
	r = stream.NewReducer(context.Background(), llm.NewSliceStream(events[:2], errors.New("reset")), stream.Options{}, zerolog.Nop())
	err := printFragments(&out, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset")
	assert.Equal(t, "hello \n", out.String())
}

func TestPrintTotals(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTotals(&out, []usage.Total{
		{Model: "claude-a", Metric: llm.MetricInputTokens, Quantity: 1000, Cost: 0.003},
		{Model: "claude-a", Metric: llm.MetricOutputTokens, Quantity: 100, Cost: 0.0015},
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "QUANTITY")
	assert.Contains(t, lines[1], "stream_chat.input_tokens")
	assert.Contains(t, lines[3], "$0.004500")
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, printRecords(&out, []usage.Record{{
		ID:          "r1",
		UsageRecord: llm.UsageRecord{Model: "claude-a", Metric: llm.MetricOutputTokens, Quantity: 42},
		CreatedAt:   created,
	}}))
	assert.Contains(t, out.String(), "2025-01-02T03:04:05Z")
	assert.Contains(t, out.String(), "42")
}

func TestFileEventHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	hook, closeHook, err := fileEventHook(path)
	require.NoError(t, err)
	hook("message_start", `{"type":"message_start"}`)
	closeHook()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "message_start\t{\"type\":\"message_start\"}\n", string(data))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"chat", "models", "usage"})
	assert.Equal(t, "test", root.Version)
}
