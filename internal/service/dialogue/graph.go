package dialogue

import (
	"context"
	"errors"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/eventbus"
	"github.com/careguide/backend/internal/service/gates"
	"github.com/careguide/backend/internal/service/specialist"
	"github.com/careguide/backend/internal/service/statemachine"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"k8s.io/klog/v2"
)

// GraphName 编译后的图名称，出现在回调的 RunInfo 中
const GraphName = "PatientDialogue"

var (
	// ErrNoUserMessage 本轮输入的最后一条消息不是用户消息
	ErrNoUserMessage = errors.New("turn must end with a user message")
	// ErrIncompleteTeam 专科不完整
	ErrIncompleteTeam = errors.New("specialist team is incomplete")
)

// Deps 图依赖的各个决策组件
type Deps struct {
	Safety     *gates.SafetyGate
	Topic      *gates.TopicGuard
	Supervisor *gates.Supervisor
	Team       specialist.Team
	Bus        *eventbus.TurnEventBus
	// Callbacks 可选，为 nil 时不挂载
	Callbacks callbacks.Handler
}

// Graph 对话编排图
// 编译一次，可被多个会话并发调用；每次调用的状态相互独立
type Graph struct {
	deps               Deps
	sm                 *statemachine.DialogueStateMachine
	maxSupervisorCalls int
	runnable           compose.Runnable[*turn, *turn]
}

// NewGraph 构建并编译对话图
// maxSupervisorCalls<=0 时取专科数+1
func NewGraph(ctx context.Context, deps Deps, maxSupervisorCalls int) (*Graph, error) {
	for _, kind := range domain.AllSpecialists() {
		if _, ok := deps.Team[kind]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrIncompleteTeam, kind)
		}
	}
	if maxSupervisorCalls <= 0 {
		maxSupervisorCalls = len(domain.AllSpecialists()) + 1
	}

	g := &Graph{
		deps:               deps,
		sm:                 statemachine.NewDialogueStateMachine(),
		maxSupervisorCalls: maxSupervisorCalls,
	}
	if err := g.compile(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) compile(ctx context.Context) error {
	klog.V(6).Infof("[DialogueGraph] 开始构建: maxSupervisorCalls=%d", g.maxSupervisorCalls)

	graph := compose.NewGraph[*turn, *turn](compose.WithGenLocalState(func(ctx context.Context) *hopState {
		return &hopState{current: statemachine.NodeStart}
	}))

	nodes := map[string]*compose.Lambda{
		domain.NodeSafetyGate: compose.InvokableLambda(g.safetyNode),
		domain.NodeTopicGuard: compose.InvokableLambda(g.topicNode),
		domain.NodeSupervisor: compose.InvokableLambda(g.supervisorNode),
	}
	for _, kind := range domain.AllSpecialists() {
		nodes[kind.String()] = compose.InvokableLambda(g.specialistNode(g.deps.Team[kind]))
	}
	for name, node := range nodes {
		if err := graph.AddLambdaNode(name, node, compose.WithNodeName(name)); err != nil {
			return fmt.Errorf("add node %s: %w", name, err)
		}
	}

	if err := graph.AddEdge(compose.START, domain.NodeSafetyGate); err != nil {
		return err
	}

	// 三个决策节点各自通过分支走向下一个节点或结束
	branches := map[string]map[string]bool{
		domain.NodeSafetyGate: {compose.END: true, domain.NodeTopicGuard: true},
		domain.NodeTopicGuard: {compose.END: true, domain.NodeSupervisor: true},
		domain.NodeSupervisor: {compose.END: true},
	}
	for _, kind := range domain.AllSpecialists() {
		branches[domain.NodeSupervisor][kind.String()] = true
		// 专科回答后回到 Supervisor，这是图中唯一的环
		if err := graph.AddEdge(kind.String(), domain.NodeSupervisor); err != nil {
			return err
		}
	}
	for from, ends := range branches {
		if err := graph.AddBranch(from, compose.NewGraphBranch(g.branch, ends)); err != nil {
			return fmt.Errorf("add branch %s: %w", from, err)
		}
	}

	// 环由 Supervisor 调用上限约束，这里的步数上限只是兜底
	maxSteps := 2*g.maxSupervisorCalls + 10
	runnable, err := graph.Compile(ctx,
		compose.WithGraphName(GraphName),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		return fmt.Errorf("failed to compile dialogue graph: %w", err)
	}
	g.runnable = runnable

	klog.V(6).Infof("[DialogueGraph] 构建完成: nodes=%d, maxSteps=%d", len(nodes), maxSteps)
	return nil
}

// Run 执行一轮对话
// 返回值在出错时也不为 nil，包含出错前已完成节点产生的消息
func (g *Graph) Run(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if n := len(in.History); n == 0 || in.History[n-1].Role != domain.RoleUser {
		return &TurnResult{}, ErrNoUserMessage
	}

	t := newTurn(in)
	var opts []compose.Option
	if g.deps.Callbacks != nil {
		opts = append(opts, compose.WithCallbacks(g.deps.Callbacks))
	}

	if _, err := g.runnable.Invoke(ctx, t, opts...); err != nil {
		klog.Errorf("[DialogueGraph] 执行失败: session=%s, path=%v, error=%v", in.SessionID, t.result.Path, err)
		return t.result, fmt.Errorf("dialogue turn: %w", err)
	}

	klog.V(6).Infof("[DialogueGraph] 执行完成: session=%s, path=%v, messages=%d", in.SessionID, t.result.Path, len(t.result.Messages))
	return t.result, nil
}

// MaxSupervisorCalls 每轮 Supervisor 调用上限
func (g *Graph) MaxSupervisorCalls() int {
	return g.maxSupervisorCalls
}

// branch 读取节点写入的下一跳
func (g *Graph) branch(ctx context.Context, t *turn) (string, error) {
	if statemachine.IsTerminal(t.next) {
		return compose.END, nil
	}
	return string(t.next), nil
}

// advance 校验并记录节点迁移
func (g *Graph) advance(ctx context.Context, t *turn, to statemachine.Node) error {
	return compose.ProcessState[*hopState](ctx, func(_ context.Context, s *hopState) error {
		if err := g.sm.Transition(s.current, to, t.in.SessionID); err != nil {
			return err
		}
		s.current = to
		t.next = to
		t.result.Path = append(t.result.Path, to)
		return nil
	})
}

// emit 追加消息，面向用户的回答立即推送给调用方
func (g *Graph) emit(ctx context.Context, t *turn, node string, msgs ...domain.Message) error {
	for _, m := range msgs {
		t.result.Messages = append(t.result.Messages, m)

		for _, call := range m.ToolCalls {
			g.publish(ctx, eventbus.TurnEvent{Type: eventbus.TurnEventToolCalled, SessionID: t.in.SessionID, Node: node, Route: call.Name})
		}
		if !m.IsFinalAnswer() {
			continue
		}
		if t.in.Emitter != nil {
			if err := t.in.Emitter.Emit(ctx, m); err != nil {
				return fmt.Errorf("emit message from %s: %w", node, err)
			}
		}
		g.publish(ctx, eventbus.TurnEvent{Type: eventbus.TurnEventMessageEmitted, SessionID: t.in.SessionID, Node: node})
	}
	return nil
}

func (g *Graph) halt(ctx context.Context, t *turn, node string, reason HaltReason, message string) (*turn, error) {
	t.result.Halt = reason
	g.publish(ctx, eventbus.TurnEvent{Type: eventbus.TurnEventGateHalted, SessionID: t.in.SessionID, Node: node, Reason: string(reason)})
	if message != "" {
		if err := g.emit(ctx, t, node, domain.AssistantMessage(node, message)); err != nil {
			return nil, err
		}
	}
	return t, g.advance(ctx, t, statemachine.NodeTerminal)
}

func (g *Graph) publish(ctx context.Context, event eventbus.TurnEvent) {
	if err := g.deps.Bus.Publish(ctx, event); err != nil {
		klog.Warningf("[DialogueGraph] 事件处理失败: type=%s, error=%v", event.Type, err)
	}
}

// ========== 节点 ==========

func (g *Graph) safetyNode(ctx context.Context, t *turn) (*turn, error) {
	if err := g.advance(ctx, t, statemachine.NodeSafetyGate); err != nil {
		return nil, err
	}

	verdict := g.deps.Safety.Evaluate(t.in.Patient)
	if verdict.Halt {
		return g.halt(ctx, t, domain.NodeSafetyGate, HaltSafety, verdict.Message)
	}
	return t, g.advance(ctx, t, statemachine.NodeTopicGuard)
}

func (g *Graph) topicNode(ctx context.Context, t *turn) (*turn, error) {
	disease := t.in.Patient.DiseaseOrDefault()
	decision, err := g.deps.Topic.Classify(ctx, t.view().History, disease)
	if err != nil {
		return nil, err
	}
	if decision == gates.OffTopic {
		return g.halt(ctx, t, domain.NodeTopicGuard, HaltOffTopic, g.deps.Topic.Refusal(disease))
	}
	return t, g.advance(ctx, t, statemachine.NodeSupervisor)
}

func (g *Graph) supervisorNode(ctx context.Context, t *turn) (*turn, error) {
	var calls int
	err := compose.ProcessState[*hopState](ctx, func(_ context.Context, s *hopState) error {
		s.supervisorCalls++
		calls = s.supervisorCalls
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.result.SupervisorCalls = calls

	if calls > g.maxSupervisorCalls {
		klog.Warningf("[DialogueGraph] Supervisor 调用次数超过上限 %d，强制结束: session=%s", g.maxSupervisorCalls, t.in.SessionID)
		return g.halt(ctx, t, domain.NodeSupervisor, HaltCycleCap, "")
	}

	decision, err := g.deps.Supervisor.Route(ctx, t.view())
	if err != nil {
		return nil, err
	}
	if decision.Reasoning != "" {
		t.result.Reasoning = append(t.result.Reasoning, decision.Reasoning)
	}
	g.publish(ctx, eventbus.TurnEvent{
		Type:            eventbus.TurnEventRouted,
		SessionID:       t.in.SessionID,
		Node:            domain.NodeSupervisor,
		Route:           decision.Next.String(),
		SupervisorCalls: calls,
	})

	if decision.Next.Finish {
		return t, g.advance(ctx, t, statemachine.NodeTerminal)
	}
	return t, g.advance(ctx, t, statemachine.SpecialistNode(decision.Next.Specialist))
}

func (g *Graph) specialistNode(agent *specialist.Agent) func(ctx context.Context, t *turn) (*turn, error) {
	node := agent.Kind().String()
	return func(ctx context.Context, t *turn) (*turn, error) {
		msgs, err := agent.Respond(ctx, t.view())
		if err != nil {
			return nil, err
		}
		if err := g.emit(ctx, t, node, msgs...); err != nil {
			return nil, err
		}
		return t, g.advance(ctx, t, statemachine.NodeSupervisor)
	}
}
