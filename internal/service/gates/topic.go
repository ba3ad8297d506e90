package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/pkg/llm"
	"github.com/cloudwego/eino/components/model"
	"k8s.io/klog/v2"
)

// TopicDecision 话题判定
type TopicDecision string

const (
	OnTopic  TopicDecision = "on_topic"
	OffTopic TopicDecision = "off_topic"
)

const topicPrompt = "You are a medical context guardian. Patient has: **{disease}**.\n\n" +
	"RULES:\n" +
	"1. **Allow** Greetings, Small talk, Thank you -> 'on_topic'.\n" +
	"2. **Allow** Questions about Medication, Diet, Exercise, Travel, Appointments related to **{disease}** -> 'on_topic'.\n" +
	"3. **Allow** Questions about the patient's own context, for example current diseases or the current appointment date -> 'on_topic'.\n" +
	"4. **Allow** Follow-up questions that do not name a disease; read the history to resolve what they refer to.\n" +
	"5. **REJECT** Questions about OTHER diseases (e.g. Cancer, HIV) -> 'off_topic'.\n" +
	"Judge the LATEST user message."

const topicRefusalTemplate = "ขออภัยครับ หมอขออนุญาตให้คำแนะนำเฉพาะเรื่อง **%s** เพื่อความปลอดภัยนะครับ"

type topicOutput struct {
	Decision string `json:"decision" jsonschema:"enum=on_topic,enum=off_topic" jsonschema_description:"on_topic if relevant to the disease or a greeting/general chat; off_topic only for unrelated diseases"`
}

// TopicGuard 判断用户问题是否在患者病种范围内
type TopicGuard struct {
	chatModel model.BaseChatModel
	window    int
}

// NewTopicGuard 创建话题守卫，window 为传给模型的历史条数上限
func NewTopicGuard(chatModel model.BaseChatModel, window int) *TopicGuard {
	return &TopicGuard{chatModel: chatModel, window: window}
}

// Classify 对最新用户消息做话题判定
// 模型输出无法解析时返回错误
func (g *TopicGuard) Classify(ctx context.Context, history []domain.Message, disease string) (TopicDecision, error) {
	if disease == "" {
		disease = domain.DefaultDisease
	}
	system := strings.ReplaceAll(topicPrompt, "{disease}", disease)

	out, err := generateStructured[topicOutput](ctx, g.chatModel, system, transcript(history, g.window))
	if err != nil {
		return "", fmt.Errorf("topic guard: %w", err)
	}

	decision := TopicDecision(strings.TrimSpace(out.Decision))
	switch decision {
	case OnTopic, OffTopic:
	default:
		return "", fmt.Errorf("topic guard: %w: decision %q", llm.ErrMalformedOutput, out.Decision)
	}

	klog.V(6).Infof("[TopicGuard] disease=%s, decision=%s", disease, decision)
	return decision, nil
}

// Refusal 话题越界时的固定回复
func (g *TopicGuard) Refusal(disease string) string {
	if disease == "" {
		disease = domain.DefaultDisease
	}
	return fmt.Sprintf(topicRefusalTemplate, disease)
}
