package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/careguide/backend/config"
	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/service"
	"github.com/careguide/backend/internal/service/dialogue"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "careguide",
		Short:         "Patient dialogue service that routes chat messages through safety and topic gates to specialist agents",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")

	// klog 的 -v 等参数挂到 cobra 上
	goflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goflags)
	root.PersistentFlags().AddGoFlagSet(goflags)

	root.AddCommand(newServeCmd(), newAskCmd(), newAgentsCmd(), newConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			klog.V(6).Info("服务启动中...")
			cfg := config.GetConfig()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:    ":" + cfg.Server.Port,
				Handler: a.router(),
			}
			errCh := make(chan error, 1)
			go func() {
				klog.Infof("Server starting on port %s...", cfg.Server.Port)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			klog.Infof("Server shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dialogue.TurnTimeout+5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newAskCmd() *cobra.Command {
	var threadID, userContext string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one dialogue turn and print the assistant messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.GetConfig()

			var patient map[string]any
			if userContext != "" {
				if err := json.Unmarshal([]byte(userContext), &patient); err != nil {
					return fmt.Errorf("parse --context: %w", err)
				}
			}
			if threadID == "" {
				threadID = uuid.NewString()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			emitter := dialogue.EmitterFunc(func(ctx context.Context, msg domain.Message) error {
				_, err := fmt.Fprintf(out, "[%s] %s\n\n", msg.Name, msg.Content)
				return err
			})

			res, err := a.chat.Chat(ctx, &service.ChatRequest{
				ThreadID:    threadID,
				Query:       strings.Join(args, " "),
				UserContext: patient,
			}, emitter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "thread_id=%s answers=%d halt=%q\n", res.ThreadID, len(res.Answers), res.Halt)
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id to continue (default: new thread)")
	cmd.Flags().StringVar(&userContext, "context", "", `patient context as JSON, e.g. '{"disease":"เบาหวาน","alert_level":0}'`)
	return cmd
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List specialists and the capabilities they may call",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, catalog, err := loadTeam(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, agent := range reg.List() {
				fmt.Fprintf(out, "%-18s %s\n", agent.Name, agent.Description)
				for _, name := range agent.Capabilities {
					fmt.Fprintf(out, "  - %s\n", name)
				}
			}
			fmt.Fprintf(out, "\ncapabilities: %s\n", strings.Join(catalog.Names(), ", "))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.GetConfig().Dump(cmd.OutOrStdout())
		},
	}
}
