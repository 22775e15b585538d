package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"SwapAgent-Chain/internal/account"
	"SwapAgent-Chain/internal/agent"
	"SwapAgent-Chain/internal/api"
	"SwapAgent-Chain/internal/catalog"
	"SwapAgent-Chain/internal/config"
	"SwapAgent-Chain/internal/dex"
	"SwapAgent-Chain/internal/llm"
	"SwapAgent-Chain/internal/llm/openai"
	"SwapAgent-Chain/internal/llm/pythonbridge"
	"SwapAgent-Chain/internal/near"
	"SwapAgent-Chain/internal/observability/alerting"
	"SwapAgent-Chain/internal/observability/metrics"
	"SwapAgent-Chain/internal/planner"
	"SwapAgent-Chain/internal/predictor"
	"SwapAgent-Chain/internal/runqueue"
	"SwapAgent-Chain/internal/secret"
	"SwapAgent-Chain/internal/storage/mysql"
	redisstore "SwapAgent-Chain/internal/storage/redis"
	"SwapAgent-Chain/internal/task"
	"SwapAgent-Chain/pkg/logger"
)

// main 是 agentd 守护进程的入口。
func main() {
	// .env 仅用于本地开发，缺失时忽略。
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	cipher, err := secret.NewCipher(cfg.Secret.Key)
	if err != nil {
		return err
	}

	// 选择 NEAR 网络。
	networks, err := near.LoadNetworks(cfg.Network.DefinitionsPath)
	if err != nil {
		return err
	}
	network, err := networks.Lookup(cfg.Network.Name)
	if err != nil {
		return err
	}
	chain, err := near.NewClient(network.RPCURL, near.WithRateLimit(cfg.Network.RPCRateLimit, cfg.Network.RPCBurst))
	if err != nil {
		return err
	}
	logger.L().Info("已选择 NEAR 网络",
		slog.String("network", cfg.Network.Name),
		slog.String("rpc", network.RPCURL),
		slog.String("dex", network.DEXContract))

	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.NewClient(ctx, redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// 兑换链路：流动性扫描、报价、交易构建与执行。
	liquidity, err := dex.NewLiquidity(chain, network.DEXContract,
		dex.WithScanLimits(cfg.Agent.SwapScanLimit, cfg.Agent.FilterScanLimit))
	if err != nil {
		return err
	}
	estimator := dex.NewEstimator(chain, liquidity, network.DEXContract, cfg.Agent.SlippageBps)
	builder := dex.NewBuilder(network.DEXContract, network.WrapContract, dex.RefPayload{})
	executorOpts := []dex.ExecutorOption{}
	if cfg.Agent.GasReserveYocto != "" {
		executorOpts = append(executorOpts, dex.WithGasReserve(cfg.Agent.GasReserveYocto))
	}
	executor := dex.NewExecutor(chain, estimator, builder, network.WrapContract, executorOpts...)

	tokens, err := createCatalog(cfg, network, liquidity, redisClient)
	if err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	repo, taskStore, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	ledger := task.NewLedger(taskStore)
	defer ledger.Close()

	provisionerOpts := []account.Option{account.WithRetry(cfg.Agent.FaucetAttempts, time.Second)}
	if cfg.Agent.FundingAmount != "" {
		provisionerOpts = append(provisionerOpts, account.WithFundingAmount(cfg.Agent.FundingAmount))
	}
	provisioner := account.NewProvisioner(network.FaucetURL, network.AccountSuffix, provisionerOpts...)
	service := agent.NewService(repo, provisioner, cipher, ledger, agent.WithBalanceReader(chain))

	collector := metrics.New()
	alerts := createAlerts(cfg)

	orchestratorOpts := []agent.OrchestratorOption{
		agent.WithRunBudget(cfg.RunBudget()),
		agent.WithLLMTimeout(cfg.LLMCallTimeout()),
		agent.WithMetrics(collector),
		agent.WithAlertDispatcher(alerts),
	}
	if redisClient != nil {
		orchestratorOpts = append(orchestratorOpts,
			agent.WithLocker(redisstore.NewLocker(redisClient, cfg.Redis.Prefix)),
			agent.WithStatusSink(redisstore.NewStatusPublisher(redisClient, cfg.Redis.Prefix)),
		)
	}
	orchestrator := agent.NewOrchestrator(service, ledger, chain,
		planner.New(llmClient), tokens, predictor.New(llmClient), executor,
		orchestratorOpts...)

	queue, err := createQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭运行队列失败", slog.Any("error", err))
		}
	}()

	processor := runqueue.NewProcessor(orchestrator, queue, queue,
		runqueue.WithWorkerCount(cfg.Queue.Workers),
		runqueue.WithRequeue(cfg.Queue.MaxRequeue, time.Duration(cfg.Queue.RequeueDelaySecs)*time.Second),
		runqueue.WithProcessorLogger(logger.Named("runqueue")),
		runqueue.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, service, orchestrator, ledger,
		api.WithSubmitter(runqueue.NewService(queue)),
		api.WithMetrics(collector),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second),
	)

	logger.L().Info("agentd 已启动", slog.String("address", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createCatalog(cfg *config.Config, network near.Network, liquidity *dex.Liquidity, redisClient *goredis.Client) (*catalog.Catalog, error) {
	opts := []catalog.Option{
		catalog.WithLimits(cfg.Agent.MaxTokens, cfg.Agent.MaxCandidates),
	}
	if cfg.Agent.StaticTokensPath != "" {
		data, err := catalog.LoadStaticData(cfg.Agent.StaticTokensPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, catalog.WithStaticData(data))
	}
	if redisClient != nil {
		ttl := time.Duration(cfg.Agent.PriceCacheTTLSecs) * time.Second
		opts = append(opts, catalog.WithPriceCache(redisstore.NewPriceCache(redisClient, cfg.Redis.Prefix), ttl))
	}
	return catalog.New(network.IndexerURL, network.WrapContract, liquidity, opts...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "none":
		logger.L().Warn("未配置大模型，规划与预测将使用默认策略")
		return nil, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OpenAI provider 需要设置环境变量 %s", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.OpenAI.APIKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     time.Duration(cfg.LLM.OpenAI.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (agent.Repository, task.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeSecs) * time.Second,
			SkipMigrations:  cfg.Storage.MySQL.SkipMigrations,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		repo, err := mysql.NewAgentRepository(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		store, err := task.NewMySQLStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return repo, store, func() { _ = db.Close() }, nil
	default:
		return agent.NewMemoryRepository(), task.NewMemoryStore(), func() {}, nil
	}
}

func createQueue(cfg *config.Config, redisClient *goredis.Client) (runqueue.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		wait := time.Duration(cfg.Queue.Redis.BlockWaitSecs) * time.Second
		if redisClient != nil {
			return runqueue.NewRedisQueueWithClient(redisClient, cfg.Queue.Redis.Queue, wait), nil
		}
		return runqueue.NewRedisQueue(runqueue.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: wait,
		})
	case "rabbitmq":
		return runqueue.NewRabbitMQQueue(runqueue.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
	default:
		return runqueue.NewMemoryQueue(cfg.Queue.MemorySize), nil
	}
}

func createAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.WebhookURL,
			Headers: cfg.Alerting.WebhookHeaders,
			Client:  &http.Client{Timeout: 5 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}
