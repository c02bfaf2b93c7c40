package prebuilt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestConvertChatHistory(t *testing.T) {
	msgs := ConvertChatHistory([]Turn{{Human: "hi", Assistant: "hello"}})
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
	assert.Equal(t, "hi", textOf(msgs[0]))
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[1].Role)
	assert.Equal(t, "hello", textOf(msgs[1]))
}

func TestConvertChatHistory_Empty(t *testing.T) {
	assert.Empty(t, ConvertChatHistory(nil))
	assert.NotNil(t, ConvertChatHistory(nil))
	assert.Empty(t, ConvertChatHistory([]Turn{}))
}

func TestConvertChatHistory_Alternates(t *testing.T) {
	msgs := ConvertChatHistory([]Turn{{"a", "b"}, {"c", "d"}, {"e", "f"}})
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		if i%2 == 0 {
			assert.Equal(t, llms.ChatMessageTypeHuman, m.Role)
		} else {
			assert.Equal(t, llms.ChatMessageTypeAI, m.Role)
		}
	}
	assert.Equal(t, "e", textOf(msgs[4]))
}

func TestTurnUnmarshalJSON(t *testing.T) {
	var turns []Turn
	require.NoError(t, json.Unmarshal([]byte(`[["hi","hello"],{"human":"q","assistant":"a"}]`), &turns))
	assert.Equal(t, []Turn{{Human: "hi", Assistant: "hello"}, {Human: "q", Assistant: "a"}}, turns)

	var bad []Turn
	assert.Error(t, json.Unmarshal([]byte(`[["only one"]]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`[42]`), &bad))
}
