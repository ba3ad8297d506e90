package domain

// 图节点名称
const (
	NodeSafetyGate = "safety_gate"
	NodeTopicGuard = "topic_guard"
	NodeSupervisor = "supervisor"
)

// FinishName 路由结束标记
const FinishName = "FINISH"

// Route Supervisor 的路由结果，只在一轮内存在，不持久化
type Route struct {
	Finish     bool
	Specialist Specialist
}

// RouteFinish 结束本轮
var RouteFinish = Route{Finish: true}

// RouteSpecialist 路由到指定专科
func RouteSpecialist(s Specialist) Route {
	return Route{Specialist: s}
}

func (r Route) String() string {
	if r.Finish || !r.Specialist.Valid() {
		return FinishName
	}
	return r.Specialist.String()
}

// ParseRoute 解析路由名称，FINISH 与未知名称都视为结束
// 第二个返回值表示名称是否属于封闭集合
func ParseRoute(name string) (Route, bool) {
	if name == FinishName {
		return RouteFinish, true
	}
	if s, ok := ParseSpecialist(name); ok {
		return RouteSpecialist(s), true
	}
	return RouteFinish, false
}

// RouteNames 路由输出的封闭集合
func RouteNames() []string {
	names := make([]string, 0, len(specialistNames)+1)
	for _, s := range AllSpecialists() {
		names = append(names, s.String())
	}
	return append(names, FinishName)
}

// TurnView 一轮对话中节点看到的只读视图
type TurnView struct {
	SessionID string
	// History 会话全部消息，包含本轮已产生的消息
	History []Message
	// Anchor 本轮用户消息在 History 中的下标
	Anchor  int
	Patient PatientContext
}

// Current 本轮产生的消息（从用户消息开始）
func (t TurnView) Current() []Message {
	if t.Anchor < 0 || t.Anchor >= len(t.History) {
		return nil
	}
	return t.History[t.Anchor:]
}

// Latest 最后一条消息
func (t TurnView) Latest() (Message, bool) {
	if len(t.History) == 0 {
		return Message{}, false
	}
	return t.History[len(t.History)-1], true
}

// Answered 本轮已经给出最终回答的专科
func (t TurnView) Answered() map[Specialist]bool {
	answered := make(map[Specialist]bool)
	for _, m := range t.Current() {
		if !m.IsFinalAnswer() {
			continue
		}
		if s, ok := ParseSpecialist(m.Name); ok {
			answered[s] = true
		}
	}
	return answered
}

// LatestIsSpecialistAnswer 最后一条消息是否为本轮某个专科的回答
func (t TurnView) LatestIsSpecialistAnswer() bool {
	if len(t.History) == 0 || len(t.History)-1 < t.Anchor {
		return false
	}
	last := t.History[len(t.History)-1]
	if !last.IsFinalAnswer() {
		return false
	}
	_, ok := ParseSpecialist(last.Name)
	return ok
}
