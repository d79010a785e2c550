package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"TopEquations/internal/auth"
	"TopEquations/internal/certificate"
	"TopEquations/internal/chain"
	"TopEquations/internal/config"
	"TopEquations/internal/curation"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/llm/openai"
	"TopEquations/internal/queue"
	"TopEquations/internal/reconcile"
	"TopEquations/internal/scoring/advisory"
	"TopEquations/internal/scoring/blend"
	"TopEquations/internal/scoring/heuristic"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// app 持有一次命令执行所需的组件，按配置显式构造。
type app struct {
	cfg      *config.Config
	store    store.Store
	records  *store.Registry
	locker   store.Locker
	curation *curation.Service
}

// openApp 加载配置并构造存储与收录服务。withLLM 为真时即使配置未启用也尝试构造大模型评审。
func openApp(ctx context.Context, opts *RootOptions, withLLM bool) (*app, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	backend, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DataDir, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	locker, err := store.NewLocker(cfg.Storage.Lock.Driver, cfg.Storage.Lock.Path,
		cfg.Storage.Lock.RedisAddress, cfg.Storage.Lock.RedisKey, cfg.LockTimeout())
	if err != nil {
		backend.Close()
		return nil, err
	}
	records := store.NewRegistry(backend, time.Now)

	svcOpts := []curation.Option{curation.WithLocker(locker)}
	scorer, err := heuristic.NewByName(cfg.Scoring.RuleSet)
	if err != nil {
		backend.Close()
		return nil, err
	}
	svcOpts = append(svcOpts, curation.WithScorer(scorer))
	blender, err := blend.New(blend.Weights{Heuristic: cfg.Scoring.HeuristicWeight, Advisory: cfg.Scoring.AdvisoryWeight})
	if err != nil {
		backend.Close()
		return nil, err
	}
	svcOpts = append(svcOpts, curation.WithBlender(blender))
	if cfg.LLM.Enabled || withLLM {
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
		})
		switch {
		case err == nil:
			svcOpts = append(svcOpts, curation.WithAdvisory(advisory.New(client,
				advisory.WithSampling(cfg.LLM.Temperature, cfg.LLM.MaxTokens))))
		case withLLM:
			backend.Close()
			return nil, err
		default:
			logger.L().Warn("大模型评审未启用", slog.Any("error", err))
		}
	}

	svc, err := curation.NewService(records, curation.Config{
		Threshold:   cfg.Scoring.Threshold,
		RepoURLBase: cfg.Promotion.RepoURLBase,
	}, svcOpts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &app{cfg: cfg, store: backend, records: records, locker: locker, curation: svc}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg := config.Default(wd)
	return cfg, cfg.Validate()
}

func (a *app) Close() {
	if a != nil && a.store != nil {
		_ = a.store.Close()
	}
}

// docPath 返回文档在文件存储中的路径；其他后端返回文档名。
func (a *app) docPath(doc store.Document) string {
	if fs, ok := a.store.(*store.FileStore); ok {
		return fs.Path(doc)
	}
	return string(doc) + ".json"
}

func (a *app) exporter() *certificate.Exporter {
	return certificate.NewExporter(a.records, certificate.WithSourceFile(a.docPath(store.DocEquations)))
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(a.records, reconcile.WithSiteArtifact(a.cfg.Site.ArtifactPath))
}

// publisher 加载钱包并按配置选择 HTTP 账本或 EVM 锚定。
func (a *app) publisher(ctx context.Context) (*chain.Publisher, error) {
	if a.cfg.Ledger.WalletFile == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 ledger.wallet_file")
	}
	wallet, err := chain.LoadWallet(a.cfg.Ledger.WalletFile)
	if err != nil {
		return nil, err
	}
	signer, err := chain.NewSigner(wallet)
	if err != nil {
		return nil, err
	}

	var ledger chain.Ledger
	if a.cfg.Ledger.EVM.Enabled {
		ledger, err = chain.DialEVMLedger(ctx, a.cfg.Ledger.EVM.RPCURL, a.cfg.Ledger.EVM.ChainID, signer)
	} else {
		ledger, err = chain.NewHTTPLedger(a.cfg.Ledger.NodeURL, a.cfg.LedgerTimeout())
	}
	if err != nil {
		return nil, err
	}
	return chain.NewPublisher(a.records, ledger, signer,
		chain.WithRateLimit(a.cfg.Ledger.RatePerSecond),
		chain.WithFiles(a.docPath(store.DocCertificates), a.cfg.Ledger.WalletFile))
}

// openQueue 按配置创建单写者队列。
func openQueue(cfg *config.Config) (queue.Queue, error) {
	return queue.Open(queue.Config{
		Driver:       cfg.Queue.Driver,
		RedisAddress: cfg.Queue.RedisAddress,
		RabbitMQURL:  cfg.Queue.RabbitMQURL,
		Name:         cfg.Queue.Name,
	})
}

// authService 根据配置构造策展人认证。
func authService(ctx context.Context, cfg config.AuthConfig) (*auth.Service, error) {
	if !cfg.Enabled {
		return auth.NewService(ctx, auth.Config{Mode: auth.ModeDisabled}, nil)
	}
	seeds := make([]auth.Seed, 0, len(cfg.Curators))
	for _, c := range cfg.Curators {
		seeds = append(seeds, auth.Seed{
			Username:     c.Username,
			PasswordHash: c.PasswordHash,
			Permissions:  c.Permissions,
			Disabled:     c.Disabled,
		})
	}
	users, err := auth.NewMemoryStore(seeds)
	if err != nil {
		return nil, err
	}
	return auth.NewService(ctx, auth.Config{
		Mode:   auth.ModeJWT,
		Secret: cfg.Secret,
		Issuer: cfg.Issuer,
		TTL:    time.Duration(cfg.TTLMinutes) * time.Minute,
	}, users)
}

// ignoreCanceled 把正常关停产生的取消错误视为成功。
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
