// Package prebuilt provides the tool-calling agent that answers questions
// with the knowledge_base and uploaded_document tools.
//
// The agent is a two-node graph.StateGraph: "agent" asks the model for the
// next step and "tools" runs the requested tool calls, looping until the
// model answers without tool calls or MaxIterations model calls were made.
//
//	agent, err := prebuilt.NewToolsAgent(llm, tools,
//		prebuilt.WithMaxIterations(8),
//	)
//	answer, err := agent.Run(ctx, prebuilt.Input{
//		Question:     "Does Acme comply with GDPR?",
//		Instructions: []string{"Answer in one paragraph."},
//		History:      []prebuilt.Turn{{Human: "hi", Assistant: "hello"}},
//	})
package prebuilt
