package model

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/invopop/jsonschema"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/tools"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// DefaultModel is used when the config names no model.
const DefaultModel = string(anthropic.ModelClaude3_7SonnetLatest)

const defaultMaxTokens = 4096

// Config holds the Anthropic connection settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	Logger    *slog.Logger
}

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropic builds a client from the config. The API key is required.
func NewAnthropic(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}, nil
}

// GenerateStructured asks the model for JSON matching out's reflected schema
// by forcing a single tool call whose input is the document itself.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, prompt, schemaName string, out any) error {
	props, err := reflectProperties(out)
	if err != nil {
		return err
	}

	tool := anthropic.ToolParam{
		Name:        schemaName,
		Description: anthropic.String("指定されたスキーマに従って構造化された結果を記録するツール。"),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: props},
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Tools:     []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: schemaName},
		},
	}

	c.logger.DebugContext(ctx, "structured model call", "schema", schemaName, "model", string(c.model))

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return schema.NewError(schema.ErrCodeModel, "model call failed").WithCause(err)
	}
	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || tu.Name != schemaName {
			continue
		}
		if err := json.Unmarshal(tu.Input, out); err != nil {
			return schema.NewError(schema.ErrCodeModel, "model returned malformed structured output").WithCause(err)
		}
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeModel, "model returned no %s tool call", schemaName)
}

// GenerateWithTools runs one conversation turn. System-role ledger entries
// fold into the system prompt; the rest become the conversation history.
func (c *AnthropicClient) GenerateWithTools(ctx context.Context, system string, msgs []state.Message, defs []tools.Definition) (state.Message, error) {
	params, err := c.turnParams(system, msgs, defs)
	if err != nil {
		return state.Message{}, err
	}

	c.logger.DebugContext(ctx, "tool-assisted model call",
		"messages", len(params.Messages), "tools", len(defs), "model", string(c.model))

	msg, err := c.client.Messages.New(ctx, *params)
	if err != nil {
		return state.Message{}, schema.NewError(schema.ErrCodeModel, "model call failed").WithCause(err)
	}
	return fromAPIMessage(msg)
}

func (c *AnthropicClient) turnParams(system string, msgs []state.Message, defs []tools.Definition) (*anthropic.MessageNewParams, error) {
	systemParts := make([]string, 0, 2)
	if system != "" {
		systemParts = append(systemParts, system)
	}

	history := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case state.RoleSystem:
			if text := msg.TextContent(); text != "" {
				systemParts = append(systemParts, text)
			}
		case state.RoleHuman:
			history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.TextContent())))
		case state.RoleAssistant:
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return nil, err
			}
			history = append(history, anthropic.NewAssistantMessage(blocks...))
		case state.RoleTool:
			if blocks := toolResultBlocks(msg); len(blocks) > 0 {
				history = append(history, anthropic.NewUserMessage(blocks...))
			}
		default:
			return nil, schema.NewErrorf(schema.ErrCodeModel, "unsupported message role %q", msg.Role)
		}
	}

	params := &anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  history,
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}
	if len(defs) > 0 {
		unions := make([]anthropic.ToolUnionParam, 0, len(defs))
		for _, def := range defs {
			unions = append(unions, toolUnionParam(def))
		}
		params.Tools = unions
	}
	return params, nil
}

func assistantBlocks(msg state.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if len(msg.Fragments) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Fragments))
	for _, f := range msg.Fragments {
		switch f.Type {
		case state.FragmentText:
			if f.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(f.Text))
			}
		case state.FragmentToolUse:
			input := f.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(f.ID, input, f.Name))
		default:
			return nil, schema.NewErrorf(schema.ErrCodeModel, "assistant message has unsupported fragment %q", f.Type)
		}
	}
	return blocks, nil
}

// toolResultBlocks renders tool-result fragments. The API expects them as
// user-role content answering the assistant's tool calls.
func toolResultBlocks(msg state.Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Fragments))
	for _, f := range msg.Fragments {
		if f.Type != state.FragmentToolResult {
			continue
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(f.ToolCallID, f.Content, false))
	}
	return blocks
}

func toolUnionParam(def tools.Definition) anthropic.ToolUnionParam {
	tool := anthropic.ToolParam{
		Name:        def.Name,
		InputSchema: inputSchemaParam(def.InputSchema),
	}
	if def.Description != "" {
		tool.Description = anthropic.String(def.Description)
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

func inputSchemaParam(raw map[string]any) anthropic.ToolInputSchemaParam {
	if props, ok := raw["properties"].(map[string]any); ok {
		return anthropic.ToolInputSchemaParam{Properties: props}
	}
	return anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
}

func fromAPIMessage(msg *anthropic.Message) (state.Message, error) {
	if msg == nil {
		return state.Message{}, schema.NewError(schema.ErrCodeModel, "model returned no message")
	}
	fragments := make([]state.Fragment, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				fragments = append(fragments, state.TextFragment(b.Text))
			}
		case anthropic.ToolUseBlock:
			input := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return state.Message{}, schema.NewErrorf(schema.ErrCodeModel,
						"tool call %s has malformed input", b.Name).WithCause(err)
				}
			}
			fragments = append(fragments, state.ToolUseFragment(b.ID, b.Name, input))
		}
	}
	if len(fragments) == 0 {
		return state.Message{}, schema.NewError(schema.ErrCodeModel, "model returned an empty response")
	}
	return state.NewAssistantMessage(fragments...), nil
}

// reflectProperties derives the tool input properties for out's type.
func reflectProperties(out any) (map[string]any, error) {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	doc := reflector.Reflect(out)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeModel, "failed to encode reflected schema").WithCause(err)
	}
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, schema.NewError(schema.ErrCodeModel, "failed to decode reflected schema").WithCause(err)
	}
	props, ok := full["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeModel, "type %T reflects to a schema without properties", out)
	}
	return props, nil
}
