package gates

import (
	"context"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/pkg/llm"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const structuredSuffix = "\n\nRespond with ONLY a JSON object that matches this JSON schema, no other text:\n"

// transcript 分类器只需要对话文本，去掉工具调用与工具结果
func transcript(msgs []domain.Message, window int) []*schema.Message {
	var kept []domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleUser || m.IsFinalAnswer() {
			kept = append(kept, m)
		}
	}
	return llm.ToSchemaMessages(domain.Window(kept, window))
}

// generateStructured 发起一次结构化输出调用
func generateStructured[T any](ctx context.Context, chatModel model.BaseChatModel, system string, history []*schema.Message) (T, error) {
	var zero T
	input := make([]*schema.Message, 0, len(history)+1)
	input = append(input, schema.SystemMessage(system+structuredSuffix+llm.SchemaOf[T]()))
	input = append(input, history...)

	resp, err := chatModel.Generate(ctx, input)
	if err != nil {
		return zero, fmt.Errorf("LLM request failed: %w", err)
	}
	if resp == nil {
		return zero, llm.ErrEmptyResponse
	}
	return llm.DecodeStructured[T](resp.Content)
}
