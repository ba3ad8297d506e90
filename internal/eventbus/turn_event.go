package eventbus

import "time"

type TurnEventType string

const (
	TurnEventStarted        TurnEventType = "TurnStarted"
	TurnEventGateHalted     TurnEventType = "GateHalted"
	TurnEventRouted         TurnEventType = "Routed"
	TurnEventToolCalled     TurnEventType = "ToolCalled"
	TurnEventMessageEmitted TurnEventType = "MessageEmitted"
	TurnEventFinished       TurnEventType = "TurnFinished"
	TurnEventFailed         TurnEventType = "TurnFailed"
)

// TurnEvent 对话轮次生命周期事件
type TurnEvent struct {
	Type      TurnEventType
	SessionID string
	// Node 产生事件的图节点
	Node string
	// Route Supervisor 的路由结果，或被调用的能力名称
	Route string
	// Reason 中断原因: safety / off_topic / cycle_cap
	Reason          string
	Status          string
	// Abandoned 排队期间放弃，未开始执行
	Abandoned       bool
	SupervisorCalls int
	Duration        time.Duration
	Err             error
}

func (e TurnEvent) EventType() TurnEventType {
	return e.Type
}

type TurnEventHandler = Handler[TurnEvent]
type TurnEventBus = Bus[TurnEventType, TurnEvent]

func NewTurnEventBus() *TurnEventBus {
	return NewBus[TurnEventType, TurnEvent]()
}
