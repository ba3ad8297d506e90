package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/careguide/backend/config"
	"github.com/careguide/backend/internal/eventbus"
	"github.com/careguide/backend/internal/handler"
	"github.com/careguide/backend/internal/pkg/agents"
	"github.com/careguide/backend/internal/pkg/capabilities"
	"github.com/careguide/backend/internal/pkg/database"
	"github.com/careguide/backend/internal/pkg/llm"
	"github.com/careguide/backend/internal/pkg/metrics"
	"github.com/careguide/backend/internal/repository"
	"github.com/careguide/backend/internal/router"
	"github.com/careguide/backend/internal/service"
	"github.com/careguide/backend/internal/service/dialogue"
	"github.com/careguide/backend/internal/service/gates"
	"github.com/careguide/backend/internal/service/orchestrator"
	"github.com/careguide/backend/internal/service/specialist"
	"github.com/careguide/backend/internal/subscriber"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// app 进程内共享的组件
type app struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	callbacks *dialogue.EinoCallbacks
	orch      *orchestrator.Orchestrator
	chat      service.ChatService
}

// loadTeam 加载专科定义与能力目录，不依赖模型与数据库
func loadTeam(book capabilities.AppointmentBook) (agents.Registry, *capabilities.Catalog, error) {
	knowledge, err := capabilities.DefaultKnowledge()
	if err != nil {
		return nil, nil, fmt.Errorf("load knowledge: %w", err)
	}
	catalog := capabilities.NewCatalog(knowledge, book)
	reg, err := agents.LoadDefault(catalog.Has)
	if err != nil {
		return nil, nil, fmt.Errorf("load specialists: %w", err)
	}
	return reg, catalog, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Database.Type != "mysql" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	// 初始化 Repository
	sessionRepo := repository.NewSessionRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)

	chatModel, err := llm.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	reg, catalog, err := loadTeam(appointmentRepo)
	if err != nil {
		return nil, err
	}
	team := specialist.NewTeam(reg, chatModel, catalog, specialist.Options{
		MaxToolRounds: cfg.Dialogue.MaxToolRounds,
		HistoryWindow: cfg.Dialogue.HistoryWindow,
	})

	// 事件总线与指标
	bus := eventbus.NewTurnEventBus()
	m := metrics.New(metrics.DefaultConfig())
	subscriber.NewTurnEventSubscriber(m).Register(bus)

	safety := gates.NewSafetyGate(cfg.Safety)
	klog.V(6).Infof("安全闸门: threshold=%.2f, fail_closed=%v", safety.Threshold(), cfg.Safety.FailClosed)

	cbs := dialogue.NewEinoCallbacks(klog.V(6).Enabled())
	graph, err := dialogue.NewGraph(ctx, dialogue.Deps{
		Safety:     safety,
		Topic:      gates.NewTopicGuard(chatModel, cfg.Dialogue.HistoryWindow),
		Supervisor: gates.NewSupervisor(chatModel, cfg.Dialogue.HistoryWindow),
		Team:       team,
		Bus:        bus,
		Callbacks:  cbs.Handler(),
	}, cfg.Dialogue.MaxSupervisorCalls)
	if err != nil {
		return nil, fmt.Errorf("build dialogue graph: %w", err)
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.Options{
		MaxConcurrentTurns: cfg.Dialogue.MaxConcurrentTurns,
		TurnTimeout:        cfg.Dialogue.TurnTimeout,
	}, bus)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	return &app{
		cfg:       cfg,
		metrics:   m,
		callbacks: cbs,
		orch:      orch,
		chat:      service.NewChatService(sessionRepo, graph, orch),
	}, nil
}

func (a *app) router() *gin.Engine {
	return router.Setup(a.cfg, handler.NewChatHandler(a.chat), a.metrics.Handler())
}

func (a *app) Close() {
	status := a.orch.GetQueueStatus()
	klog.Infof("停止调度器: sessions=%d, workers=%d, waiting=%d", status.ActiveSessions, status.ActiveWorkers, status.Waiting)
	a.orch.Stop()
	if a.callbacks.IsEnabled() {
		klog.V(6).Infof("eino 回调统计: %v", a.callbacks.GetStats())
	}
}
