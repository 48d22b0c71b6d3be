package faq

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
Q: What are your opening hours?
A: We are open from 09:00 to 17:00,
with a lunch break between 13:00 and 14:00.

Q: Do you accept insurance?
A: Yes, we accept most major insurance plans.
Q: Where is the clinic located?
A: 12 Harley Street.
`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "What are your opening hours?", entries[0].Question)
	require.Equal(t, "We are open from 09:00 to 17:00, with a lunch break between 13:00 and 14:00.", entries[0].Answer)
	require.Equal(t, "12 Harley Street.", entries[2].Answer)
}

func TestParseDuplicateQuestionKeepsLast(t *testing.T) {
	entries, err := Parse(strings.NewReader("Q: a?\nA: one\nQ: b?\nA: two\nQ: a?\nA: three\n"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "three", entries[0].Answer)
}

func TestParseEmpty(t *testing.T) {
	entries, err := Parse(strings.NewReader("\n\n"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBestMatch(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	m := NewMatcher(entries)
	ctx := context.Background()

	got, ok, err := m.BestMatch(ctx, "what are your opening hours")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1.0, got.Similarity, 1e-9)
	require.Contains(t, got.Answer, "09:00")

	got, ok, err = m.BestMatch(ctx, "Is insurance accepted at the clinic?")
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, got.Similarity, 0.7)
	require.Greater(t, got.Similarity, 0.0)

	_, ok, err = m.BestMatch(ctx, "zebra")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBestMatchEmptyFAQ(t *testing.T) {
	_, ok, err := NewMatcher(nil).BestMatch(context.Background(), "hours")
	require.NoError(t, err)
	require.False(t, ok)
}
