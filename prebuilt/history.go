package prebuilt

import (
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// Turn is one exchange of a conversation.
type Turn struct {
	Human     string `json:"human"`
	Assistant string `json:"assistant"`
}

// UnmarshalJSON accepts both {"human": ..., "assistant": ...} and the
// ["human", "assistant"] pair form.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("chat history turn must have 2 entries, got %d", len(pair))
		}
		t.Human, t.Assistant = pair[0], pair[1]
		return nil
	}

	type plain Turn
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid chat history turn: %w", err)
	}
	*t = Turn(p)
	return nil
}

// ConvertChatHistory flattens turns into alternating human and assistant
// messages. A nil or empty history gives an empty slice.
func ConvertChatHistory(history []Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 2*len(history))
	for _, turn := range history {
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeHuman, turn.Human),
			llms.TextParts(llms.ChatMessageTypeAI, turn.Assistant),
		)
	}
	return messages
}
