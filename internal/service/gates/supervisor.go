package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/careguide/backend/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"k8s.io/klog/v2"
)

const supervisorPrompt = "You are a router. Your goal is to manage the conversation flow to address ALL user needs.\n" +
	"Current Agents:\n" +
	"1. **MedicationAgent**: Drugs, dosage, side effects.\n" +
	"2. **ExerciseAgent**: Workout, physical activity, tiredness.\n" +
	"3. **DietAgent**: Food, hunger, menu, eating.\n" +
	"4. **TransportAgent**: Travel, driving, flying, carrying items.\n" +
	"5. **AppointmentAgent**: Scheduling, seeing doctor, postpone, change date.\n" +
	"6. **GeneralChatAgent**: Greetings, emotions, small talk.\n\n" +
	"ROUTING LOGIC (IMPORTANT):\n" +
	"- Analyze the user's latest message AND the conversation history.\n" +
	"- If the user asks MULTIPLE questions (e.g., 'Change appointment AND what to eat'), you must address them ONE BY ONE.\n" +
	"- **STEP 1**: Pick the first relevant agent.\n" +
	"- **STEP 2**: Wait for that agent to respond (look at the history).\n" +
	"- **STEP 3**: If there are still unanswered parts of the question, pick the NEXT relevant agent.\n" +
	"- **FINISH**: Select 'FINISH' ONLY when ALL parts of the user's input have been addressed.\n" +
	"- **TIE-BREAK**: When a question touches two categories, pick the agent for the grammatical action or object " +
	"(e.g. 'May I exercise after taking insulin?' -> ExerciseAgent).\n" +
	"- Never pick an agent that has already answered the latest user message.\n\n" +
	"EXAMPLE:\n" +
	"User: 'Change appointment to Monday and is it okay to eat Durian?'\n" +
	"Turn 1: Select 'AppointmentAgent' (Reasoning: I need to handle the appointment change first.)\n" +
	"...AppointmentAgent responds...\n" +
	"Turn 2: Select 'DietAgent' (Reasoning: Appointment is done, but the user also asked about eating Durian.)\n" +
	"...DietAgent responds...\n" +
	"Turn 3: Select 'FINISH' (Reasoning: Both appointment and diet questions have been answered.)\n"

type routerOutput struct {
	Reasoning string `json:"reasoning" jsonschema_description:"Analyze the conversation history. What has been answered? What is still pending? Explain why you choose the next agent."`
	Next      string `json:"next" jsonschema:"enum=MedicationAgent,enum=ExerciseAgent,enum=DietAgent,enum=TransportAgent,enum=AppointmentAgent,enum=GeneralChatAgent,enum=FINISH"`
}

// RouteDecision Supervisor 的路由决定
type RouteDecision struct {
	Next      domain.Route
	Reasoning string
	// Guarded 为 true 表示未调用模型，由前置条件直接结束
	Guarded bool
}

// Supervisor 选择下一个专科或结束本轮
type Supervisor struct {
	chatModel model.BaseChatModel
	window    int
}

// NewSupervisor 创建 Supervisor
func NewSupervisor(chatModel model.BaseChatModel, window int) *Supervisor {
	return &Supervisor{chatModel: chatModel, window: window}
}

// Route 决定下一步
// 最后一条消息既不是用户消息、也不是本轮专科的回答时，直接结束且不调用模型
func (s *Supervisor) Route(ctx context.Context, turn domain.TurnView) (RouteDecision, error) {
	last, ok := turn.Latest()
	if !ok {
		return RouteDecision{Next: domain.RouteFinish, Guarded: true, Reasoning: "empty history"}, nil
	}
	if last.Role != domain.RoleUser && !turn.LatestIsSpecialistAnswer() {
		klog.V(6).Infof("[Supervisor] 最后一条消息来自 %s/%s，结束本轮", last.Role, last.Name)
		return RouteDecision{Next: domain.RouteFinish, Guarded: true, Reasoning: "latest message is not routable"}, nil
	}

	out, err := generateStructured[routerOutput](ctx, s.chatModel, supervisorPrompt, transcript(turn.History, s.window))
	if err != nil {
		return RouteDecision{}, fmt.Errorf("supervisor: %w", err)
	}

	next, known := domain.ParseRoute(strings.TrimSpace(out.Next))
	if !known {
		klog.Warningf("[Supervisor] 未知路由 %q（可选 %v），按 FINISH 处理", out.Next, domain.RouteNames())
	}
	if !next.Finish && turn.Answered()[next.Specialist] {
		klog.V(6).Infof("[Supervisor] %s 本轮已回答，结束", next)
		next = domain.RouteFinish
	}

	klog.V(6).Infof("[Supervisor] next=%s, reasoning=%s", next, out.Reasoning)
	return RouteDecision{Next: next, Reasoning: out.Reasoning}, nil
}
