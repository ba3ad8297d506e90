package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careguide/backend/internal/eventbus"
	"github.com/careguide/backend/internal/service/statemachine"
	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// -----------------------------
// TurnFunc 定义
// -----------------------------

// TurnFunc 一轮对话的执行体，ctx 已带上超时与取消
type TurnFunc func(ctx context.Context) error

// -----------------------------
// 错误定义
// -----------------------------
var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrQueueFull           = errors.New("turn queue is full")
	ErrSessionBusy         = errors.New("session has too many pending turns")
)

// Options 调度参数
type Options struct {
	// MaxConcurrentTurns 同时执行的轮次上限
	MaxConcurrentTurns int
	// TurnTimeout 单轮超时，<=0 时使用默认值
	TurnTimeout time.Duration
	// MaxPendingPerSession 同一会话执行中加排队的轮次上限
	MaxPendingPerSession int
}

const (
	defaultMaxConcurrentTurns   = 16
	defaultTurnTimeout          = 2 * time.Minute
	defaultMaxPendingPerSession = 4
)

// -----------------------------
// Orchestrator
// -----------------------------

// Orchestrator 对话轮次调度器
// 同一会话的轮次串行执行，不同会话并发执行，总并发数由协程池限制
type Orchestrator struct {
	pool *ants.Pool
	sm   *statemachine.TurnStateMachine
	bus  *eventbus.TurnEventBus
	opts Options

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	sessions     map[string]*sessionLock
	sessionMutex sync.Mutex

	activeCancellations map[string]context.CancelFunc
	cancelMutex         sync.Mutex

	turnSeq atomic.Uint64
}

// sessionLock 会话锁，refs 为执行中与排队中的轮次数
type sessionLock struct {
	ch   chan struct{}
	refs int
}

// -----------------------------
// 构造函数
// -----------------------------
func NewOrchestrator(opts Options, bus *eventbus.TurnEventBus) (*Orchestrator, error) {
	if opts.MaxConcurrentTurns <= 0 {
		opts.MaxConcurrentTurns = defaultMaxConcurrentTurns
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	if opts.MaxPendingPerSession <= 0 {
		opts.MaxPendingPerSession = defaultMaxPendingPerSession
	}

	pool, err := ants.NewPool(opts.MaxConcurrentTurns,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		pool:                pool,
		sm:                  statemachine.NewTurnStateMachine(),
		bus:                 bus,
		opts:                opts,
		ctx:                 ctx,
		cancel:              cancel,
		sessions:            make(map[string]*sessionLock),
		activeCancellations: make(map[string]context.CancelFunc),
	}, nil
}

// -----------------------------
// 停止
// -----------------------------
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("Orchestrator stopping...")
		o.cancel()

		if running := o.pool.Running(); running > 0 {
			klog.V(6).Infof("Waiting for %d running turns to complete", running)
		}
		timeout := o.opts.TurnTimeout + 5*time.Second
		if err := o.pool.ReleaseTimeout(timeout); err != nil {
			klog.Warningf("Timeout after %v: some running turns may be forced to stop", timeout)
		}
		klog.V(6).Infof("Orchestrator stopped completely")
	})
}

// -----------------------------
// 执行一轮
// -----------------------------

// Run 在会话锁内执行 fn，阻塞直到执行结束
// 排队期间 ctx 取消会直接返回，fn 不会被调用
func (o *Orchestrator) Run(ctx context.Context, sessionID string, fn TurnFunc) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	turnID := fmt.Sprintf("%s#%d", sessionID, o.turnSeq.Add(1))
	status := statemachine.TurnStatusQueued

	lock, err := o.acquire(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionBusy) {
			o.finish(sessionID, turnID, status, statemachine.TurnStatusCanceled, 0, err)
		}
		return err
	}
	defer o.release(sessionID, lock)

	done := make(chan error, 1)
	if err := o.pool.Submit(func() {
		done <- o.execute(ctx, sessionID, turnID, fn)
	}); err != nil {
		klog.Errorf("提交轮次到协程池失败: turn=%s, err=%v", turnID, err)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrOrchestratorStopped
		}
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	}
	return <-done
}

// execute 在工作协程中运行，负责状态迁移、超时、panic 恢复与事件
func (o *Orchestrator) execute(parent context.Context, sessionID, turnID string, fn TurnFunc) (err error) {
	start := time.Now()
	if err := o.sm.Transition(statemachine.TurnStatusQueued, statemachine.TurnStatusRunning, turnID); err != nil {
		return err
	}
	o.publish(eventbus.TurnEvent{Type: eventbus.TurnEventStarted, SessionID: sessionID, Status: string(statemachine.TurnStatusRunning)})

	ctx, cancel := context.WithTimeout(parent, o.opts.TurnTimeout)
	defer cancel()
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	o.registerCancel(sessionID, cancel)
	defer o.unregisterCancel(sessionID)

	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Turn panic recovered: turn=%s, err=%v", turnID, r)
			err = fmt.Errorf("turn panic: %v", r)
		}
		o.finish(sessionID, turnID, statemachine.TurnStatusRunning, outcome(ctx, err), time.Since(start), err)
	}()

	return fn(ctx)
}

// outcome 根据错误判断轮次的结束状态
func outcome(ctx context.Context, err error) statemachine.TurnStatus {
	switch {
	case err == nil:
		return statemachine.TurnStatusSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return statemachine.TurnStatusCanceled
	default:
		return statemachine.TurnStatusFailed
	}
}

func (o *Orchestrator) finish(sessionID, turnID string, from, to statemachine.TurnStatus, d time.Duration, err error) {
	if terr := o.sm.Transition(from, to, turnID); terr != nil {
		klog.Warningf("轮次状态异常: turn=%s, err=%v", turnID, terr)
	}

	event := eventbus.TurnEvent{
		Type:      eventbus.TurnEventFinished,
		SessionID: sessionID,
		Status:    string(to),
		Duration:  d,
		Err:       err,
		Abandoned: from == statemachine.TurnStatusQueued,
	}
	if to != statemachine.TurnStatusSucceeded {
		event.Type = eventbus.TurnEventFailed
		klog.Warningf("轮次未成功结束: turn=%s, status=%s, err=%v", turnID, to, err)
	} else {
		klog.V(6).Infof("Turn completed: turn=%s, duration=%v", turnID, d)
	}
	o.publish(event)
}

func (o *Orchestrator) publish(event eventbus.TurnEvent) {
	if err := o.bus.Publish(context.Background(), event); err != nil {
		klog.Warningf("[Orchestrator] 事件处理失败: type=%s, error=%v", event.Type, err)
	}
}

// -----------------------------
// 会话锁
// -----------------------------
func (o *Orchestrator) acquire(ctx context.Context, sessionID string) (*sessionLock, error) {
	o.sessionMutex.Lock()
	lock, ok := o.sessions[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		o.sessions[sessionID] = lock
	}
	if lock.refs >= o.opts.MaxPendingPerSession {
		o.sessionMutex.Unlock()
		klog.Warningf("会话排队轮次过多: session=%s, pending=%d", sessionID, lock.refs)
		return nil, ErrSessionBusy
	}
	lock.refs++
	o.sessionMutex.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return lock, nil
	case <-ctx.Done():
		o.drop(sessionID, lock)
		return nil, ctx.Err()
	case <-o.ctx.Done():
		o.drop(sessionID, lock)
		return nil, ErrOrchestratorStopped
	}
}

func (o *Orchestrator) release(sessionID string, lock *sessionLock) {
	<-lock.ch
	o.drop(sessionID, lock)
}

// drop 减少引用，无人使用时删除会话锁
func (o *Orchestrator) drop(sessionID string, lock *sessionLock) {
	o.sessionMutex.Lock()
	defer o.sessionMutex.Unlock()
	lock.refs--
	if lock.refs == 0 && o.sessions[sessionID] == lock {
		delete(o.sessions, sessionID)
	}
}

// -----------------------------
// 取消
// -----------------------------
func (o *Orchestrator) registerCancel(sessionID string, cancel context.CancelFunc) {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	o.activeCancellations[sessionID] = cancel
}

func (o *Orchestrator) unregisterCancel(sessionID string) {
	o.cancelMutex.Lock()
	defer o.cancelMutex.Unlock()
	delete(o.activeCancellations, sessionID)
}

// CancelSession 取消会话当前正在执行的轮次
func (o *Orchestrator) CancelSession(sessionID string) bool {
	o.cancelMutex.Lock()
	cancel, ok := o.activeCancellations[sessionID]
	o.cancelMutex.Unlock()
	if !ok {
		return false
	}

	klog.V(6).Infof("Cancelling turn: session=%s", sessionID)
	cancel()
	return true
}

// -----------------------------
// Queue Status
// -----------------------------
type QueueStatus struct {
	ActiveSessions int `json:"active_sessions"`
	ActiveWorkers  int `json:"active_workers"`
	Waiting        int `json:"waiting"`
	Capacity       int `json:"capacity"`
}

func (o *Orchestrator) GetQueueStatus() *QueueStatus {
	o.sessionMutex.Lock()
	sessions := len(o.sessions)
	o.sessionMutex.Unlock()
	return &QueueStatus{
		ActiveSessions: sessions,
		ActiveWorkers:  o.pool.Running(),
		Waiting:        o.pool.Waiting(),
		Capacity:       o.pool.Cap(),
	}
}
