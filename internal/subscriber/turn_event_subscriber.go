package subscriber

import (
	"context"
	"time"

	"github.com/careguide/backend/internal/eventbus"
	"k8s.io/klog/v2"
)

// turnRecorder 接收轮次事件的指标记录器
type turnRecorder interface {
	TurnStarted()
	TurnFinished(status string, d time.Duration)
	TurnAbandoned(status string)
	GateHalted(reason string)
	Routed(route string)
	ToolCalled(node, tool string)
	MessageEmitted(node string)
}

// TurnEventSubscriber 把轮次生命周期事件转成指标
type TurnEventSubscriber struct {
	recorder turnRecorder
}

func NewTurnEventSubscriber(recorder turnRecorder) *TurnEventSubscriber {
	return &TurnEventSubscriber{recorder: recorder}
}

// Register 订阅全部轮次事件，返回取消订阅函数
func (s *TurnEventSubscriber) Register(bus *eventbus.TurnEventBus) func() {
	if bus == nil || s.recorder == nil {
		return func() {}
	}
	unsubscribes := []func(){
		bus.Subscribe(eventbus.TurnEventStarted, s.handleStarted),
		bus.Subscribe(eventbus.TurnEventFinished, s.handleFinished),
		bus.Subscribe(eventbus.TurnEventFailed, s.handleFinished),
		bus.Subscribe(eventbus.TurnEventGateHalted, s.handleGateHalted),
		bus.Subscribe(eventbus.TurnEventRouted, s.handleRouted),
		bus.Subscribe(eventbus.TurnEventToolCalled, s.handleToolCalled),
		bus.Subscribe(eventbus.TurnEventMessageEmitted, s.handleMessageEmitted),
	}
	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}

func (s *TurnEventSubscriber) handleStarted(ctx context.Context, event eventbus.TurnEvent) error {
	s.recorder.TurnStarted()
	return nil
}

func (s *TurnEventSubscriber) handleFinished(ctx context.Context, event eventbus.TurnEvent) error {
	if event.Abandoned {
		s.recorder.TurnAbandoned(event.Status)
		return nil
	}
	s.recorder.TurnFinished(event.Status, event.Duration)
	if event.Err != nil {
		klog.V(6).Infof("轮次事件: type=%s, session=%s, status=%s, error=%v", event.Type, event.SessionID, event.Status, event.Err)
	}
	return nil
}

func (s *TurnEventSubscriber) handleGateHalted(ctx context.Context, event eventbus.TurnEvent) error {
	s.recorder.GateHalted(event.Reason)
	klog.V(6).Infof("轮次被闸门中断: session=%s, node=%s, reason=%s", event.SessionID, event.Node, event.Reason)
	return nil
}

func (s *TurnEventSubscriber) handleRouted(ctx context.Context, event eventbus.TurnEvent) error {
	s.recorder.Routed(event.Route)
	return nil
}

func (s *TurnEventSubscriber) handleToolCalled(ctx context.Context, event eventbus.TurnEvent) error {
	s.recorder.ToolCalled(event.Node, event.Route)
	return nil
}

func (s *TurnEventSubscriber) handleMessageEmitted(ctx context.Context, event eventbus.TurnEvent) error {
	s.recorder.MessageEmitted(event.Node)
	return nil
}
