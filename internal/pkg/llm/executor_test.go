package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/careguide/backend/internal/pkg/llm/llmtest"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name string
	out  string
	err  error
	runs int
}

func (t *echoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "echo"}, nil
}

func (t *echoTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	t.runs++
	return t.out, t.err
}

func TestToolExecutorExecute(t *testing.T) {
	ctx := context.Background()
	ok := &echoTool{name: "lookup", out: strings.Repeat("x", 20)}
	broken := &echoTool{name: "broken", err: errors.New("boom")}

	executor, err := NewToolExecutor(ctx, &ExecutorConfig{MaxToolRounds: 2, MaxResultLen: 10}, ok, broken)
	require.NoError(t, err)
	assert.Len(t, executor.Infos(), 2)

	res, err := executor.Execute(ctx, schema.ToolCall{Function: schema.FunctionCall{Name: "lookup", Arguments: "{}"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Content, strings.Repeat("x", 10)))
	assert.Contains(t, res.Content, "10 more bytes truncated")

	res, err = executor.Execute(ctx, schema.ToolCall{Function: schema.FunctionCall{Name: "unknown_tool"}})
	require.NoError(t, err, "未知工具返回错误结果，不是错误")
	assert.True(t, res.IsError)
	assert.Equal(t, "unknown tool: unknown_tool", res.Content)

	_, err = executor.Execute(ctx, schema.ToolCall{Function: schema.FunctionCall{Name: "broken"}})
	assert.Error(t, err)
}

func TestNewToolExecutorRejectsDuplicates(t *testing.T) {
	_, err := NewToolExecutor(context.Background(), nil, &echoTool{name: "a"}, &echoTool{name: "a"})
	assert.Error(t, err)
}

func TestRunToolLoop(t *testing.T) {
	ctx := context.Background()
	lookup := &echoTool{name: "lookup", out: "ยาเบาหวาน: Metformin"}
	executor, err := NewToolExecutor(ctx, nil, lookup)
	require.NoError(t, err)

	chatModel := llmtest.Sequence(
		llmtest.ToolCallReply("call-1", "lookup", `{"query":"ยา"}`),
		llmtest.TextReply("ทาน Metformin ตามแพทย์สั่งนะครับ ช่วงนี้คุมน้ำตาลได้ดีไหมครับ?"),
	)

	produced, err := RunToolLoop(ctx, chatModel, []*schema.Message{schema.UserMessage("ยาอะไรดี")}, executor)
	require.NoError(t, err)
	require.Len(t, produced, 3)
	assert.Equal(t, schema.Tool, produced[1].Role)
	assert.Equal(t, "call-1", produced[1].ToolCallID)
	assert.Equal(t, "ยาเบาหวาน: Metformin", produced[1].Content)
	assert.Empty(t, produced[2].ToolCalls)
	assert.Equal(t, 1, lookup.runs)

	calls := chatModel.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].Tools, 1, "工具已绑定到模型")
	assert.Len(t, calls[1].Input, 3, "第二次调用包含工具结果")
}

func TestRunToolLoopStopsAfterMaxRounds(t *testing.T) {
	ctx := context.Background()
	executor, err := NewToolExecutor(ctx, &ExecutorConfig{MaxToolRounds: 1}, &echoTool{name: "lookup"})
	require.NoError(t, err)

	chatModel := llmtest.Sequence(
		llmtest.ToolCallReply("c1", "lookup", "{}"),
		llmtest.ToolCallReply("c2", "lookup", "{}"),
	)

	_, err = RunToolLoop(ctx, chatModel, nil, executor)
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
}

func TestRunToolLoopPropagatesFailures(t *testing.T) {
	ctx := context.Background()
	executor, err := NewToolExecutor(ctx, nil, &echoTool{name: "broken", err: errors.New("db down")})
	require.NoError(t, err)

	_, err = RunToolLoop(ctx, llmtest.Sequence(llmtest.ToolCallReply("c1", "broken", "{}")), nil, executor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	_, err = RunToolLoop(ctx, llmtest.Sequence(), nil, nil)
	assert.ErrorIs(t, err, llmtest.ErrScriptExhausted)
}

func TestStructuredOutput(t *testing.T) {
	type decision struct {
		Next string `json:"next" jsonschema:"enum=A,enum=B"`
	}

	schemaText := SchemaOf[decision]()
	assert.Contains(t, schemaText, `"next"`)
	assert.Contains(t, schemaText, `"A"`)

	got, err := DecodeStructured[decision]("```json\n{\"next\":\"B\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Next)

	_, err = DecodeStructured[decision]("no json here")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}
