package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/dsp-mcp-go/mcp"
	"github.com/ggoodman/dsp-mcp-go/sessions"
)

// ErrMissingPromptArgument is returned by GetPrompt when a required argument
// is absent or empty.
var ErrMissingPromptArgument = errors.New("missing required prompt argument")

// PromptHandler materializes a prompt. Required arguments have already been
// checked when it runs.
type PromptHandler func(ctx context.Context, session *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its handler.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// StaticPrompts is a threadsafe, replaceable set of prompts.
type StaticPrompts struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]StaticPrompt

	notifier ChangeNotifier
}

var _ PromptsCapability = (*StaticPrompts)(nil)

// NewStaticPrompts constructs a container holding defs.
func NewStaticPrompts(defs ...StaticPrompt) *StaticPrompts {
	sp := &StaticPrompts{}
	sp.Replace(context.Background(), defs...)
	return sp
}

// Replace atomically replaces the prompt set.
func (sp *StaticPrompts) Replace(ctx context.Context, defs ...StaticPrompt) {
	sp.mu.Lock()
	sp.prompts = make([]mcp.Prompt, 0, len(defs))
	sp.handlers = make(map[string]StaticPrompt, len(defs))
	for _, d := range defs {
		sp.prompts = append(sp.prompts, d.Descriptor)
		sp.handlers[d.Descriptor.Name] = d
	}
	sp.mu.Unlock()
	_ = sp.notifier.Notify(ctx)
}

// Snapshot returns a copy of the current descriptors.
func (sp *StaticPrompts) Snapshot() []mcp.Prompt {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	out := make([]mcp.Prompt, len(sp.prompts))
	copy(out, sp.prompts)
	return out
}

func (sp *StaticPrompts) ListPrompts(_ context.Context, _ *sessions.Session, cursor *string) (Page[mcp.Prompt], error) {
	return pageSlice(sp.Snapshot(), 0, cursor), nil
}

func (sp *StaticPrompts) GetPrompt(ctx context.Context, session *sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrPromptNotFound)
	}
	sp.mu.RLock()
	def, ok := sp.handlers[req.Name]
	sp.mu.RUnlock()
	if !ok || def.Handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, req.Name)
	}
	for _, arg := range def.Descriptor.Arguments {
		if arg.Required && req.Arguments[arg.Name] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingPromptArgument, arg.Name)
		}
	}
	return def.Handler(ctx, session, req)
}

// Subscriber implements ChangeSubscriber.
func (sp *StaticPrompts) Subscriber() <-chan struct{} { return sp.notifier.Subscriber() }

// UserText builds a single user-role text message.
func UserText(text string) mcp.PromptMessage {
	return mcp.PromptMessage{
		Role:    mcp.RoleUser,
		Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text},
	}
}
