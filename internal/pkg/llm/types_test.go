package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/careguide/backend/internal/domain"
	"github.com/cloudwego/eino/schema"
)

func TestToSchemaMessage(t *testing.T) {
	call := domain.Message{
		Role:      domain.RoleAssistant,
		Name:      "DietAgent",
		ToolCalls: []domain.ToolCall{{ID: "c1", Name: "get_diet_guidance", Arguments: `{"query":"x"}`}},
	}
	msgs := ToSchemaMessages([]domain.Message{
		domain.UserMessage("กินทุเรียนได้ไหม"),
		call,
		domain.ToolResultMessage("get_diet_guidance", "c1", "เลี่ยงหวาน"),
		domain.AssistantMessage("DietAgent", "ทานได้นิดหน่อยครับ?"),
	})

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.User {
		t.Errorf("expected user role, got %s", msgs[0].Role)
	}
	if msgs[1].Role != schema.Assistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool call, got %+v", msgs[1])
	}
	if msgs[1].ToolCalls[0].Function.Name != "get_diet_guidance" || msgs[1].ToolCalls[0].Type != "function" {
		t.Errorf("unexpected tool call: %+v", msgs[1].ToolCalls[0])
	}
	if msgs[2].Role != schema.Tool || msgs[2].ToolCallID != "c1" {
		t.Errorf("unexpected tool result: %+v", msgs[2])
	}
	if msgs[3].Name != "DietAgent" {
		t.Errorf("expected assistant name DietAgent, got %s", msgs[3].Name)
	}
}

func TestFromSchemaMessage(t *testing.T) {
	tc := schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "get_current_appointment", Arguments: "{}"}}})
	got := FromSchemaMessage("AppointmentAgent", tc)
	if got.Role != domain.RoleAssistant || got.Name != "AppointmentAgent" {
		t.Errorf("unexpected message: %+v", got)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "get_current_appointment" {
		t.Errorf("unexpected tool calls: %+v", got.ToolCalls)
	}
	if got.IsFinalAnswer() {
		t.Errorf("tool call message must not be a final answer")
	}
	if got.ID == "" {
		t.Errorf("expected generated id")
	}

	tool := schema.ToolMessage("ok", "c1")
	tool.Name = "get_current_appointment"
	got = FromSchemaMessage("AppointmentAgent", tool)
	if got.Role != domain.RoleTool || got.Name != "get_current_appointment" || got.ToolCallID != "c1" {
		t.Errorf("unexpected tool message: %+v", got)
	}
}

type sample struct {
	Decision string `json:"decision" jsonschema:"enum=on_topic,enum=off_topic"`
}

func TestSchemaOf(t *testing.T) {
	s := SchemaOf[sample]()
	for _, want := range []string{`"decision"`, `"on_topic"`, `"off_topic"`} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %s: %s", want, s)
		}
	}
}

func TestDecodeStructured(t *testing.T) {
	got, err := DecodeStructured[sample]("```json\n{\"decision\":\"off_topic\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Decision != "off_topic" {
		t.Errorf("expected off_topic, got %s", got.Decision)
	}

	_, err = DecodeStructured[sample]("ไม่ใช่ JSON")
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected ErrMalformedOutput, got %v", err)
	}
}
