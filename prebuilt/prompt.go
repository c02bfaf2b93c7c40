package prebuilt

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// DefaultSystemPrompt is used when the caller gives no instructions.
const DefaultSystemPrompt = "You are a helpful assistant"

// BuildPrompt assembles the opening messages of an agent run: one system
// message per instruction (or DefaultSystemPrompt), then the converted
// history, then the question. Tool-use steps are appended after it.
func BuildPrompt(instructions []string, history []Turn, question string) []llms.MessageContent {
	var system []llms.MessageContent
	for _, inst := range instructions {
		if strings.TrimSpace(inst) == "" {
			continue
		}
		system = append(system, llms.TextParts(llms.ChatMessageTypeSystem, inst))
	}
	if len(system) == 0 {
		system = []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, DefaultSystemPrompt)}
	}

	messages := append(system, ConvertChatHistory(history)...)
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))
}
