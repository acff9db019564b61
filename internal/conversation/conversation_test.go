// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_AppendAlternates(t *testing.T) {
	h := NewHistory()

	require.NoError(t, h.Append(UserMessage("hi")))
	require.NoError(t, h.Append(AssistantMessage("A")))
	require.NoError(t, h.Append(UserMessage("there")))
	require.NoError(t, h.Append(AssistantMessage("B")))

	want := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "A"},
		{Role: RoleUser, Content: "there"},
		{Role: RoleAssistant, Content: "B"},
	}
	assert.Equal(t, want, h.Snapshot())
}

func TestHistory_RejectsOutOfOrder(t *testing.T) {
	h := NewHistory()

	assert.ErrorIs(t, h.Append(AssistantMessage("first")), ErrRoleOrder)

	require.NoError(t, h.Append(UserMessage("q")))
	assert.ErrorIs(t, h.Append(UserMessage("q again")), ErrRoleOrder)
	assert.Equal(t, 1, h.Len())
}

func TestHistory_RejectsUnknownRole(t *testing.T) {
	h := NewHistory()
	err := h.Append(Message{Role: "system", Content: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Append(UserMessage("hi")))

	snap := h.Snapshot()
	snap[0].Content = "mutated"

	assert.Equal(t, "hi", h.Snapshot()[0].Content)
}

func TestHistory_InterruptedAndLastAssistant(t *testing.T) {
	h := NewHistory()
	_, ok := h.LastAssistant()
	assert.False(t, ok)

	require.NoError(t, h.Append(UserMessage("hi")))
	require.NoError(t, h.Append(InterruptedMessage("par")))

	content, ok := h.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "par", content)

	assert.True(t, h.Snapshot()[1].Interrupted)
	assert.ErrorIs(t, h.Append(AssistantMessage("again")), ErrRoleOrder)
	assert.NoError(t, h.Append(UserMessage("next")))
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Append(UserMessage("hi")))
	h.Clear()

	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Snapshot())
	assert.ErrorIs(t, h.Append(AssistantMessage("a")), ErrRoleOrder, "a cleared history starts with the user")
}

func TestHistory_ConcurrentReaders(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = h.Append(UserMessage("u"))
			_ = h.Append(AssistantMessage("a"))
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = h.Snapshot()
				_ = h.Len()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, h.Len())
}

// =============================================================================
// RECALL TESTS
// =============================================================================

func TestRecall_EmptyReturnsNothing(t *testing.T) {
	r := NewRecall(RecallSingle, 0)
	assert.Equal(t, "", r.Recall())
}

func TestRecall_SingleOverwrites(t *testing.T) {
	r := NewRecall(RecallSingle, 0)
	r.Record("hello")
	assert.Equal(t, "hello", r.Recall())

	r.Record("world")
	assert.Equal(t, "world", r.Recall())
	assert.Equal(t, []string{"world"}, r.Entries())
}

func TestRecall_StackKeepsBoundedTail(t *testing.T) {
	r := NewRecall(RecallStack, 3)
	for _, s := range []string{"a", "b", "c", "d"} {
		r.Record(s)
	}

	assert.Equal(t, "d", r.Recall())
	assert.Equal(t, []string{"b", "c", "d"}, r.Entries())
}

func TestParseRecallMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RecallMode
		wantErr bool
	}{
		{"", RecallSingle, false},
		{"single", RecallSingle, false},
		{"stack", RecallStack, false},
		{"queue", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRecallMode(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
