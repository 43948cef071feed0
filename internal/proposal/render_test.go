package proposal

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/actiongate/actiongate/internal/bus"
)

const testID = "0b6f3c1e-2a4d-4c8e-9f10-1a2b3c4d5e6f"

func TestRenderBlocksKeepsEverythingAndButtonsLast(t *testing.T) {
	body := strings.Repeat("ünïcødé line that is fairly long for wrapping\n", 300)
	p := &Proposal{Title: "I'll send this email", Description: "*Body:*\n" + body, Risk: Risk{Level: RiskHigh}}

	blocks := RenderBlocks(p, testID, 500)
	require.Greater(t, len(blocks), 2)

	var joined strings.Builder
	for i, b := range blocks {
		require.LessOrEqual(t, utf8.RuneCountInString(b.Text), 500)
		require.True(t, utf8.ValidString(b.Text))
		if i < len(blocks)-1 {
			require.Empty(t, b.Buttons)
		}
		joined.WriteString(b.Text)
	}
	require.Equal(t, Text(p, testID), joined.String())
	require.Contains(t, joined.String(), body)

	last := blocks[len(blocks)-1]
	require.Len(t, last.Buttons, 2)
	require.Equal(t, ActionConfirm, last.Buttons[0].ActionID)
	require.Equal(t, bus.StylePrimary, last.Buttons[0].Style)
	require.Equal(t, ActionReject, last.Buttons[1].ActionID)
	require.Equal(t, bus.StyleDanger, last.Buttons[1].Style)
	require.Equal(t, testID, last.Buttons[1].Value)
}

func TestRenderBlocksWithoutConfirmation(t *testing.T) {
	blocks := RenderBlocks(&Proposal{Title: "I'll look this up", Description: "x"}, "", 0)
	require.Len(t, blocks, 1)
	require.Empty(t, blocks[0].Buttons)
	require.NotContains(t, blocks[0].Text, "Ref:")
}

func TestChunkSplitsOverlongLineOnRunes(t *testing.T) {
	line := strings.Repeat("日本", 10)
	chunks := Chunk(line, 6)
	require.Equal(t, line, strings.Join(chunks, ""))
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 6)
	}
}

func TestParseRefAndIndicators(t *testing.T) {
	text := Text(&Proposal{Title: "I'll send this email", Description: "d"}, testID)
	id, ok := ParseRef(text)
	require.True(t, ok)
	require.Equal(t, testID, id)

	_, ok = ParseRef("no marker")
	require.False(t, ok)

	require.True(t, LooksLikeProposal("Sure, I’ll send the recap to Dana."))
	require.True(t, LooksLikeProposal("Shall I book it?"))
	require.False(t, LooksLikeProposal("Here are your events for today."))
}
