package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"TopEquations/internal/api"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/mcp"
	"TopEquations/internal/observability/alerting"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/queue"
	"TopEquations/internal/reconcile"
	"TopEquations/pkg/logger"
)

func newReconcileCommand(root *RootOptions) *cobra.Command {
	var gate string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Report drift between submissions, ranked records, certificates and the site; exits 1 on drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			severity, err := reconcile.ParseSeverity(gate)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.reconciler().Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed(severity) {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gate, "gate", "warn", "lowest severity that fails the run (error, warn, info)")
	return cmd
}

// worker 组装单写者队列与结果跟踪器。
type worker struct {
	queue      queue.Queue
	dispatcher *queue.Dispatcher
	run        *queue.Worker
}

func (a *app) newWorker() (*worker, error) {
	q, err := openQueue(a.cfg)
	if err != nil {
		return nil, err
	}
	tracker := queue.NewTracker(1024)
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if a.cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: a.cfg.Alerts.WebhookURL})
	}
	w := queue.NewWorker(q, queue.WithTracker(tracker), queue.WithAlerts(alerting.NewFanout(notifiers...)))
	a.curation.RegisterHandlers(w)
	return &worker{queue: q, dispatcher: queue.NewDispatcher(q, tracker), run: w}, nil
}

func newServeCommand(root *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue worker and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			w, err := a.newWorker()
			if err != nil {
				return err
			}
			defer w.queue.Close()
			authSvc, err := authService(cmd.Context(), a.cfg.Auth)
			if err != nil {
				return err
			}
			server := api.NewServer(addr, a.curation, w.dispatcher,
				api.WithAuth(authSvc),
				api.WithReconciler(a.reconciler()))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return ignoreCanceled(w.run.Run(ctx)) })
			g.Go(func() error { return server.Start(ctx) })
			if a.cfg.Server.MetricsAddress != "" {
				g.Go(func() error { return metrics.StartServer(ctx, a.cfg.Server.MetricsAddress) })
			}
			logger.L().Info("topeq 服务已启动",
				slog.String("addr", addr),
				slog.String("queue", a.cfg.Queue.Driver),
				slog.Bool("auth", authSvc.Enabled()))
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; defaults to server.address")
	return cmd
}

func newEnqueueCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <submit|import|score|promote> <payload.json>",
		Short: "Publish a write job to the shared queue for a running serve instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := queue.Kind(args[0])
			switch kind {
			case queue.KindSubmit, queue.KindImport, queue.KindScore, queue.KindPromote:
			default:
				return xerrors.Newf(xerrors.CodeInvalidArgument, "未知的作业类型: %s", args[0])
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取作业载荷失败")
			}
			if !json.Valid(data) {
				return xerrors.New(xerrors.CodeInvalidArgument, "作业载荷不是合法 JSON")
			}
			cfg, err := loadConfig(root.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Queue.Driver == "" || cfg.Queue.Driver == "memory" {
				return xerrors.New(xerrors.CodeInvalidArgument, "enqueue 需要 redis 或 rabbitmq 队列")
			}
			q, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer q.Close()
			job, err := queue.NewDispatcher(q, nil).Enqueue(cmd.Context(), kind, json.RawMessage(data))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"job_id": job.ID, "kind": string(job.Kind)})
		},
	}
}

func newMCPCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the submission tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root, false)
			if err != nil {
				return err
			}
			defer a.Close()
			w, err := a.newWorker()
			if err != nil {
				return err
			}
			defer w.queue.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ignoreCanceled(w.run.Run(ctx)) })
			g.Go(func() error {
				defer cancel()
				return ignoreCanceled(mcp.New(a.curation, w.dispatcher).ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout()))
			})
			return g.Wait()
		},
	}
}
