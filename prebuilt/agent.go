package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/hybridrag/graph"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/tool"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxIterations bounds the model calls of one run.
	DefaultMaxIterations = 8

	// StoppedOutput is returned when a run hits the iteration limit.
	StoppedOutput = "Agent stopped due to iteration limit."
)

// ErrNoChoices is returned when the model response has no choices.
var ErrNoChoices = errors.New("model returned no choices")

// Input is one question for the agent.
type Input struct {
	Question     string
	Instructions []string
	History      []Turn
}

// ToolObserver is told about every tool call.
type ToolObserver func(name string, err error, elapsed time.Duration)

// agentState flows through the agent graph.
type agentState struct {
	Messages   []llms.MessageContent
	Iterations int
	Output     string
	Done       bool
}

// ToolsAgent runs the tool-calling loop.
type ToolsAgent struct {
	llm              llms.Model
	tools            tool.Set
	maxIterations    int
	handleToolErrors bool
	observers        []ToolObserver
	listeners        []graph.NodeListener
	logger           log.Logger
	runnable         *graph.StateRunnable[agentState]
}

// AgentOption configures a ToolsAgent.
type AgentOption func(*ToolsAgent)

// WithMaxIterations sets how many model calls one run may make.
func WithMaxIterations(n int) AgentOption {
	return func(a *ToolsAgent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithHandleToolErrors feeds tool failures back to the model as
// observations instead of failing the run.
func WithHandleToolErrors(handle bool) AgentOption {
	return func(a *ToolsAgent) {
		a.handleToolErrors = handle
	}
}

// WithToolObserver registers a ToolObserver.
func WithToolObserver(o ToolObserver) AgentOption {
	return func(a *ToolsAgent) {
		a.observers = append(a.observers, o)
	}
}

// WithNodeListener registers a listener on the agent graph.
func WithNodeListener(l graph.NodeListener) AgentOption {
	return func(a *ToolsAgent) {
		a.listeners = append(a.listeners, l)
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) AgentOption {
	return func(a *ToolsAgent) {
		a.logger = l
	}
}

// NewToolsAgent creates a ToolsAgent over the given tools.
func NewToolsAgent(llm llms.Model, tools tool.Set, opts ...AgentOption) (*ToolsAgent, error) {
	if llm == nil {
		return nil, errors.New("nil model")
	}
	a := &ToolsAgent{
		llm:           llm,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.OrDefault(a.logger)

	workflow := graph.NewStateGraph[agentState]()
	workflow.AddNode("agent", "Tool-calling model step", a.agentNode)
	workflow.AddNode("tools", "Tool execution node", a.toolsNode)
	workflow.SetEntryPoint("agent")
	workflow.AddConditionalEdge("agent", func(ctx context.Context, s agentState) string {
		if s.Done {
			return graph.END
		}
		return "tools"
	})
	workflow.AddEdge("tools", "agent")
	// each iteration is one agent and one tools step, plus the final agent step
	workflow.SetStepLimit(2*a.maxIterations + 1)
	for _, l := range a.listeners {
		workflow.AddListener(l)
	}

	runnable, err := workflow.Compile()
	if err != nil {
		return nil, err
	}
	a.runnable = runnable
	return a, nil
}

// Run answers in.Question and returns the model's final output.
func (a *ToolsAgent) Run(ctx context.Context, in Input) (string, error) {
	state := agentState{Messages: BuildPrompt(in.Instructions, in.History, in.Question)}
	out, err := a.runnable.Invoke(ctx, state)
	if err != nil {
		return "", unwrapNodeError(err)
	}
	return out.Output, nil
}

func (a *ToolsAgent) agentNode(ctx context.Context, s agentState) (agentState, error) {
	if s.Iterations >= a.maxIterations {
		a.logger.Warn("agent stopped after %d iterations", s.Iterations)
		s.Output = StoppedOutput
		s.Done = true
		return s, nil
	}
	s.Iterations++

	resp, err := a.llm.GenerateContent(ctx, s.Messages, llms.WithTools(a.tools.Definitions()))
	if err != nil {
		return s, fmt.Errorf("agent model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return s, ErrNoChoices
	}
	choice := resp.Choices[0]

	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextPart(choice.Content))
	}
	for _, tc := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, tc)
	}
	s.Messages = append(s.Messages, msg)

	if len(choice.ToolCalls) == 0 {
		s.Output = choice.Content
		s.Done = true
	}
	return s, nil
}

func (a *ToolsAgent) toolsNode(ctx context.Context, s agentState) (agentState, error) {
	var calls []llms.ToolCall
	for _, part := range s.Messages[len(s.Messages)-1].Parts {
		if tc, ok := part.(llms.ToolCall); ok && tc.FunctionCall != nil {
			calls = append(calls, tc)
		}
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		g.Go(func() error {
			out, err := a.callTool(gctx, tc)
			if err != nil {
				if !a.handleToolErrors {
					return err
				}
				out = fmt.Sprintf("Error: %v", err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, err
	}

	for i, tc := range calls {
		s.Messages = append(s.Messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    results[i],
				},
			},
		})
	}
	return s, nil
}

func (a *ToolsAgent) callTool(ctx context.Context, tc llms.ToolCall) (string, error) {
	name := tc.FunctionCall.Name
	start := time.Now()

	out, err := a.dispatch(ctx, name, tc.FunctionCall.Arguments)

	elapsed := time.Since(start)
	for _, o := range a.observers {
		o(name, err, elapsed)
	}
	if err != nil {
		a.logger.Warn("tool %s failed after %s: %v", name, elapsed, err)
	} else {
		a.logger.Debug("tool %s returned %d bytes in %s", name, len(out), elapsed)
	}
	return out, err
}

func (a *ToolsAgent) dispatch(ctx context.Context, name, arguments string) (string, error) {
	t, ok := a.tools.Lookup(name)
	if !ok {
		return "", &rag.ToolError{Tool: name, Err: errors.New("unknown tool")}
	}
	return t.Call(ctx, arguments)
}

// unwrapNodeError drops the graph's node wrapping so callers see the
// ToolError or model error directly.
func unwrapNodeError(err error) error {
	var te *rag.ToolError
	if errors.As(err, &te) {
		return te
	}
	return err
}
