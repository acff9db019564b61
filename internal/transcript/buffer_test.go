// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_AppendMergesSameKind(t *testing.T) {
	b := NewBuffer()
	b.Append(KindUser, "USER:\nhi\n\n")
	b.Append(KindAssistant, "LLM:\n")
	b.Append(KindAssistant, "Hel")
	b.Append(KindAssistant, "lo")
	b.Append(KindAssistant, "\n\n")

	assert.Equal(t, "USER:\nhi\n\nLLM:\nHello\n\n", b.String())

	segs := b.Segments()
	if assert.Len(t, segs, 2) {
		assert.Equal(t, KindUser, segs[0].Kind)
		assert.Equal(t, "LLM:\nHello\n\n", segs[1].Text)
	}
	assert.Equal(t, len(b.String()), b.Len())
}

func TestBuffer_SnapshotsSurviveLaterAppends(t *testing.T) {
	b := NewBuffer()
	b.Append(KindAssistant, "LLM:\n")
	b.Append(KindAssistant, "one")
	before := b.Segments()
	text := b.String()

	b.Append(KindAssistant, " two")
	b.Append(KindSystem, "SYSTEM:\nx\n\n")

	assert.Equal(t, "LLM:\none", before[0].Text)
	assert.Equal(t, "LLM:\none", text)
	segs := b.Segments()
	if assert.Len(t, segs, 2) {
		assert.Equal(t, "LLM:\none two", segs[0].Text)
		assert.Equal(t, KindSystem, segs[1].Kind)
	}
}

func TestBuffer_LongStream(t *testing.T) {
	b := NewBuffer()
	b.Append(KindUser, "USER:\nq\n\n")
	for i := 0; i < 10000; i++ {
		b.Append(KindAssistant, "ab")
	}

	segs := b.Segments()
	if assert.Len(t, segs, 2) {
		assert.Equal(t, strings.Repeat("ab", 10000), segs[1].Text)
	}
	assert.Equal(t, len("USER:\nq\n\n")+20000, b.Len())
}

func TestBuffer_AppendAfterClear(t *testing.T) {
	b := NewBuffer()
	b.Append(KindUser, "a")
	b.Append(KindAssistant, "b")
	b.Clear()
	b.Append(KindAssistant, "c")

	assert.Equal(t, []Segment{{Kind: KindAssistant, Text: "c"}}, b.Segments())
}

func TestBuffer_EmptyAppendIsIgnored(t *testing.T) {
	b := NewBuffer()
	b.Append(KindSystem, "")

	assert.Equal(t, uint64(0), b.Version())
	assert.Empty(t, b.Segments())
}

func TestBuffer_Clear(t *testing.T) {
	b := NewBuffer()
	b.Append(KindUser, "x")
	v := b.Version()

	b.Clear()

	assert.Equal(t, "", b.String())
	assert.Equal(t, 0, b.Len())
	assert.Greater(t, b.Version(), v)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "user", KindUser.String())
	assert.Equal(t, "assistant", KindAssistant.String())
	assert.Equal(t, "system", KindSystem.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
