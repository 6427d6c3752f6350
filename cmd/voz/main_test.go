package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/db"
	"github.com/RichardoC/voz/internal/models"
	"github.com/RichardoC/voz/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig points storage at a bolt file in a temp dir.
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "voz.bolt")
	configPath = filepath.Join(dir, "voz.yaml")
	yaml := "storage:\n  driver: bolt\n  path: " + dbPath + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))
	return configPath, dbPath
}

func seed(t *testing.T, dbPath string, fn func(*store.Store)) {
	t.Helper()
	kv, err := db.NewBolt(dbPath)
	require.NoError(t, err)
	fn(store.New(kv, zap.NewNop()))
	require.NoError(t, kv.Close())
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "voz dev")
	assert.Contains(t, out, "commit: none")
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"version", "serve", "chats", "title", "replay"} {
		assert.Contains(t, names, want)
	}
}

func TestTitleCmd(t *testing.T) {
	out, err := run(t, "title", "What's the weather in Boston?")
	require.NoError(t, err)
	assert.Equal(t, "Weather in Boston\n", out)

	_, err = run(t, "title")
	assert.Error(t, err)
}

func TestChatsCmds(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	var chatID string
	seed(t, dbPath, func(st *store.Store) {
		chat := st.Create("")
		chatID = chat.ID
		st.Append(chat.ID, models.RoleUser, "What's the weather in Boston?")
		st.Append(chat.ID, models.RoleAssistant, "It looks sunny in Boston today.")
		st.FinalizeDuration(chat.ID, 75)
	})

	out, err := run(t, "chats", "list", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, chatID)
	assert.Contains(t, out, "Weather in Boston")
	assert.Contains(t, out, "1:15")
	assert.Contains(t, out, "It looks sunny in Boston today.")

	out, err = run(t, "chats", "show", chatID, "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Weather in Boston (1:15, 2 messages)")
	assert.Contains(t, out, "user: What's the weather in Boston?")
	assert.Contains(t, out, "assistant: It looks sunny in Boston today.")

	_, err = run(t, "chats", "rename", chatID, "Boston forecast", "-c", configPath)
	require.NoError(t, err)
	out, err = run(t, "chats", "list", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Boston forecast")

	_, err = run(t, "chats", "show", "missing", "-c", configPath)
	assert.Error(t, err)

	_, err = run(t, "chats", "delete", chatID, "-c", configPath)
	require.NoError(t, err)
	out, err = run(t, "chats", "list", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations.")
}

func TestReplayCmd(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	recording := filepath.Join(t.TempDir(), "session.jsonl")
	lines := []string{
		`{"type":"call-start"}`,
		`{"type":"speech-start","role":"user"}`,
		`{"type":"transcript","role":"user","transcript":"Planning a trip to Japan","transcriptType":"final"}`,
		`garbage`,
		`{"type":"transcript","role":"assistant","transcript":"Spring is a lovely time"}`,
		`{"type":"speech-end","role":"assistant"}`,
		`{"type":"call-end"}`,
	}
	require.NoError(t, os.WriteFile(recording, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	out, err := run(t, "replay", recording, "-c", configPath, "--min-duration", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, `"Planning a Trip to Japan", 2 messages`)

	seed(t, dbPath, func(st *store.Store) {
		chats := st.List()
		require.Len(t, chats, 1)
		msgs := st.ListMessages(chats[0].ID)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Spring is a lovely time", msgs[1].Text)
	})
}

func TestReplayDiscardsShortCall(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	recording := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(recording, []byte(
		`{"type":"call-start"}`+"\n"+
			`{"type":"transcript","role":"user","transcript":"Hi","transcriptType":"final"}`+"\n"), 0o644))

	out, err := run(t, "replay", recording, "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "discarded")

	seed(t, dbPath, func(st *store.Store) {
		assert.Empty(t, st.List())
	})
}

func TestReplayMissingFile(t *testing.T) {
	configPath, _ := writeConfig(t)
	_, err := run(t, "replay", filepath.Join(t.TempDir(), "nope.jsonl"), "-c", configPath)
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(-3))
	assert.Equal(t, "0:42", formatDuration(42))
	assert.Equal(t, "1:15", formatDuration(75))
	assert.Equal(t, "1:01:01", formatDuration(3661))
}

func TestReplayStopsAtCallEnd(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	recording := filepath.Join(t.TempDir(), "session.jsonl")
	lines := []string{
		`{"type":"call-start"}`,
		`{"type":"transcript","role":"user","transcript":"Planning a trip to Japan","transcriptType":"final"}`,
		`{"type":"call-end"}`,
	}
	// more events than the feed buffers, all after the call has ended
	for i := 0; i < 200; i++ {
		lines = append(lines, `{"type":"speech-start","role":"assistant"}`)
	}
	require.NoError(t, os.WriteFile(recording, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	done := make(chan struct{})
	var (
		out string
		err error
	)
	go func() {
		defer close(done)
		out, err = run(t, "replay", recording, "-c", configPath, "--min-duration", "1ns")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not return after call-end")
	}
	require.NoError(t, err)
	assert.Contains(t, out, "kept")

	seed(t, dbPath, func(st *store.Store) {
		chats := st.List()
		require.Len(t, chats, 1)
		assert.Len(t, st.ListMessages(chats[0].ID), 1)
	})
}
