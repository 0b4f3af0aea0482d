package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AgentStake-Chain/internal/agent"
	"AgentStake-Chain/internal/api"
	"AgentStake-Chain/internal/config"
	"AgentStake-Chain/internal/llm"
	"AgentStake-Chain/internal/llm/openai"
	"AgentStake-Chain/internal/observability/alerting"
	"AgentStake-Chain/internal/task"
	"AgentStake-Chain/internal/tokens"
	"AgentStake-Chain/internal/web3/provider"
	"AgentStake-Chain/pkg/logger"
)

// main 是质押代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		stdlog.Fatalf("stakeagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("STAKEAGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "stakeagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(cfg.Web3, cfg.Staking)
	if err != nil {
		return err
	}

	tokenProvider, err := tokens.LoadStaticProvider(cfg.Staking.TokenConfig)
	if err != nil {
		return err
	}

	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	default:
		// 质押历史不做持久化，任务记录只存活于进程内。
		return fmt.Errorf("不支持的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		_ = taskStore.Close()
	}()

	var taskQueue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Error("关闭任务队列失败", "error", err)
		}
	}()

	ag := agent.New(
		llmClient,
		chainRegistry,
		tokenProvider,
		agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()),
	)

	alertDispatcher, err := createAlertDispatcher(cfg.Alerting)
	if err != nil {
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithAlertDispatcher(alertDispatcher),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	logger.L().Info("stakeagentd 已启动",
		"address", cfg.Server.Address,
		"chains", chainRegistry.Chains(),
		"default_chain", chainRegistry.DefaultChain(),
	)

	server := api.NewServer(cfg.Server.Address, taskService)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createAlertDispatcher 按配置装配告警渠道，渠道选择与队列驱动同样
// 由配置驱动。
func createAlertDispatcher(cfg config.AlertingConfig) (alerting.Dispatcher, error) {
	notifiers := make([]alerting.Notifier, 0, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		switch channel {
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier())
		case "webhook":
			notifier, err := alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout())
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, notifier)
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", channel)
		}
	}
	return alerting.NewFanout(notifiers...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的 LLM provider: %s", cfg.LLM.Provider)
	}
}
