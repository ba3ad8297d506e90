package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"
)

// ErrMalformedOutput 模型的结构化输出无法解析
var ErrMalformedOutput = errors.New("malformed structured output")

// ToSchemaMessages 领域消息转换为 Eino 消息
func ToSchemaMessages(msgs []domain.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToSchemaMessage(m))
	}
	return out
}

// ToSchemaMessage 单条消息转换
func ToSchemaMessage(m domain.Message) *schema.Message {
	switch m.Role {
	case domain.RoleUser:
		return schema.UserMessage(m.Content)
	case domain.RoleTool:
		msg := schema.ToolMessage(m.Content, m.ToolCallID)
		msg.Name = m.Name
		return msg
	default:
		var calls []schema.ToolCall
		for _, c := range m.ToolCalls {
			calls = append(calls, schema.ToolCall{
				ID:   c.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      c.Name,
					Arguments: c.Arguments,
				},
			})
		}
		msg := schema.AssistantMessage(m.Content, calls)
		msg.Name = m.Name
		return msg
	}
}

// FromSchemaMessage Eino 消息转换为领域消息，name 为产生该消息的节点
func FromSchemaMessage(name string, m *schema.Message) domain.Message {
	if m.Role == schema.Tool {
		if m.Name != "" {
			name = m.Name
		}
		return domain.ToolResultMessage(name, m.ToolCallID, m.Content)
	}

	out := domain.Message{
		ID:        domain.NewMessageID(),
		Name:      name,
		Content:   m.Content,
		CreatedAt: domain.Now(),
	}
	switch m.Role {
	case schema.User:
		out.Role = domain.RoleUser
	default:
		out.Role = domain.RoleAssistant
		for _, c := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        c.ID,
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			})
		}
	}
	return out
}

// SchemaOf 生成结构化输出类型的 JSON Schema 文本，嵌入到提示词中
func SchemaOf[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	s := reflector.Reflect(v)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeStructured 从模型回复中提取 JSON 并解析
func DecodeStructured[T any](content string) (T, error) {
	var out T
	raw := utils.ExtractJSON(content)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return out, nil
}
