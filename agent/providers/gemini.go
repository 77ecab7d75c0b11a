// Package providers implements agent.Completer over concrete model APIs.
package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tailored-agentic-units/dispatch/agent"
	"github.com/tailored-agentic-units/dispatch/core/protocol"
)

// New builds the completer selected by cfg.Provider. It satisfies
// agent.Factory.
func New(cfg *agent.Config) (agent.Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGemini(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("%w: %s", agent.ErrUnknownProvider, cfg.Provider)
	}
}

// Gemini completes through the Gemini API with function calling.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature *float32
	maxTokens   int32
}

// NewGemini creates a Gemini completer. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewGemini(ctx context.Context, cfg *agent.Config) (*Gemini, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: set %s", agent.ErrMissingAPIKey, cfg.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, req agent.Request) (protocol.Message, error) {
	config := &genai.GenerateContentConfig{}
	if req.Persona != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Persona, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations(req.Tools)}}
	}
	if g.temperature != nil {
		config.Temperature = g.temperature
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents(req.Messages), config)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	return message(resp), nil
}

func declarations(defs []protocol.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decl := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if len(d.Parameters) > 0 {
			decl.ParametersJsonSchema = d.Parameters
		}
		decls = append(decls, decl)
	}
	return decls
}

// contents converts the conversation into Gemini turns. Consecutive tool
// results are grouped into one user turn of function responses, which is
// how the API expects a parallel call batch to be answered.
func contents(msgs []protocol.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	names := make(map[string]string)

	var pending *genai.Content
	flush := func() {
		if pending != nil {
			out = append(out, pending)
			pending = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case protocol.RoleTool:
			part := genai.NewPartFromFunctionResponse(names[m.ToolCallID], map[string]any{
				"output": m.Content,
			})
			part.FunctionResponse.ID = m.ToolCallID
			if pending == nil {
				pending = &genai.Content{Role: genai.RoleUser}
			}
			pending.Parts = append(pending.Parts, part)

		case protocol.RoleAssistant:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(content.Parts) == 0 {
				content.Parts = append(content.Parts, genai.NewPartFromText(" "))
			}
			out = append(out, content)

		default:
			flush()
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	flush()
	return out
}

func message(resp *genai.GenerateContentResponse) protocol.Message {
	msg := protocol.Message{Role: protocol.RoleAssistant}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return msg
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			msg.ToolCalls = append(msg.ToolCalls, protocol.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: fc.Args,
			})
		}
	}

	msg.Content = text.String()
	return msg
}
