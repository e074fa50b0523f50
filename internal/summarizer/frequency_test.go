package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencySummarizer(t *testing.T) {
	text := "Solar power is growing fast. Solar panels convert light into power. " +
		"My cat sleeps all day! Power grids must adapt to solar power growth"

	s := NewFrequencySummarizer()
	got, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.NotContains(t, got, "cat")
	assert.Contains(t, got, "Solar")

	all, err := s.Summarize(text, 10)
	require.NoError(t, err)
	assert.Equal(t, "Solar power is growing fast. Solar panels convert light into power. My cat sleeps all day! Power grids must adapt to solar power growth", all)
}

func TestFrequencySummarizer_Edges(t *testing.T) {
	s := NewFrequencySummarizer()
	got, err := s.Summarize("   ", 3)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = s.Summarize("no punctuation\nat all", 0)
	require.NoError(t, err)
	assert.Equal(t, "no punctuation at all", got)
}
