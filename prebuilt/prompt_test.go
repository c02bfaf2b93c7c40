package prebuilt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestBuildPrompt_Default(t *testing.T) {
	msgs := BuildPrompt(nil, nil, "What is Acme?")
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, DefaultSystemPrompt, textOf(msgs[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, "What is Acme?", textOf(msgs[1]))
}

func TestBuildPrompt_InstructionsAndHistory(t *testing.T) {
	msgs := BuildPrompt(
		[]string{"Be brief.", "  ", "Cite sources."},
		[]Turn{{Human: "hi", Assistant: "hello"}},
		"q",
	)
	require.Len(t, msgs, 5)
	assert.Equal(t, "Be brief.", textOf(msgs[0]))
	assert.Equal(t, "Cite sources.", textOf(msgs[1]))
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[1].Role)
	assert.Equal(t, "hi", textOf(msgs[2]))
	assert.Equal(t, "hello", textOf(msgs[3]))
	assert.Equal(t, "q", textOf(msgs[4]))
	for _, m := range msgs {
		assert.NotEqual(t, DefaultSystemPrompt, textOf(m))
	}
}
