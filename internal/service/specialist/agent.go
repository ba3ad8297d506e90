package specialist

import (
	"context"
	"errors"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/pkg/agents"
	"github.com/careguide/backend/internal/pkg/capabilities"
	"github.com/careguide/backend/internal/pkg/llm"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// ErrNoAnswer 专科没有给出文本回答
var ErrNoAnswer = errors.New("specialist produced no answer")

// Options 专科运行参数
type Options struct {
	MaxToolRounds int
	HistoryWindow int
}

// Agent 专科 Agent，围绕模型执行工具循环
// 无状态，可被多个会话并发使用
type Agent struct {
	def       *agents.Agent
	chatModel model.ToolCallingChatModel
	catalog   *capabilities.Catalog
	opts      Options
}

// New 创建专科 Agent
func New(def *agents.Agent, chatModel model.ToolCallingChatModel, catalog *capabilities.Catalog, opts Options) *Agent {
	return &Agent{def: def, chatModel: chatModel, catalog: catalog, opts: opts}
}

// Kind 专科枚举
func (a *Agent) Kind() domain.Specialist {
	return a.def.Kind
}

// Respond 生成本专科的回答
// 返回本次追加的全部消息（含工具调用与结果），最后一条为最终回答
func (a *Agent) Respond(ctx context.Context, turn domain.TurnView) ([]domain.Message, error) {
	name := a.def.Name

	system, err := a.def.RenderSystemPrompt(turn.Patient)
	if err != nil {
		return nil, err
	}

	executor, err := a.executor(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	window := domain.Window(turn.History, a.opts.HistoryWindow)
	input := make([]*schema.Message, 0, len(window)+1)
	input = append(input, schema.SystemMessage(system))
	input = append(input, llm.ToSchemaMessages(window)...)

	klog.V(6).Infof("[%s] 开始处理: session=%s, history=%d, tools=%d", name, turn.SessionID, len(window), len(executor.Infos()))
	produced, err := llm.RunToolLoop(ctx, a.chatModel, input, executor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	out := make([]domain.Message, 0, len(produced))
	for _, m := range produced {
		out = append(out, llm.FromSchemaMessage(name, m))
	}
	if len(out) == 0 || !out[len(out)-1].IsFinalAnswer() {
		return nil, fmt.Errorf("%s: %w", name, ErrNoAnswer)
	}

	klog.V(8).Infof("[%s] 回答: %s", name, out[len(out)-1].Content)
	return out, nil
}

func (a *Agent) executor(ctx context.Context, turn domain.TurnView) (*llm.ToolExecutor, error) {
	binding := capabilities.Binding{
		ThreadID: turn.SessionID,
		Patient:  turn.Patient,
		Turn:     turn.Current(),
	}

	tools := make([]tool.InvokableTool, 0, len(a.def.Capabilities))
	for _, c := range a.def.Capabilities {
		t, err := a.catalog.Build(c, binding)
		if errors.Is(err, capabilities.ErrCapabilityUnavailable) {
			klog.Warningf("[%s] 跳过不可用的能力: %v", a.def.Name, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}

	cfg := llm.DefaultExecutorConfig()
	if a.opts.MaxToolRounds > 0 {
		cfg.MaxToolRounds = a.opts.MaxToolRounds
	}
	return llm.NewToolExecutor(ctx, cfg, tools...)
}

// Team 全部专科，按枚举索引
type Team map[domain.Specialist]*Agent

// NewTeam 按注册中心构造全部专科
func NewTeam(reg agents.Registry, chatModel model.ToolCallingChatModel, catalog *capabilities.Catalog, opts Options) Team {
	team := make(Team, len(domain.AllSpecialists()))
	for _, def := range reg.List() {
		team[def.Kind] = New(def, chatModel, catalog, opts)
	}
	return team
}
