// Package app はプロセスの起動、依存関係のワイヤリング、サブコマンドの実行を担う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/userdir/internal/config"
	"github.com/hitoshi/userdir/internal/database"
	"github.com/hitoshi/userdir/internal/handler"
	"github.com/hitoshi/userdir/internal/logger"
	"github.com/hitoshi/userdir/internal/metrics"
	"github.com/hitoshi/userdir/internal/middleware"
	"github.com/hitoshi/userdir/internal/user"
)

// dotEnvPath は起動時に読み込む.envファイルのパス。
const dotEnvPath = ".env"

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、.envと環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. .envファイルを読み込む（存在しない場合はスキップ）
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level.Set(cfg.SlogLevel())
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(healthcheckURL(port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージに接続し、全依存関係をワイヤリングし、APIサーバーとメトリクスサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストレージ接続
	storage, err := OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := pingStorage(storage, cfg); err != nil {
		return err
	}

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. サービスとルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CreateRatePerMin:  cfg.RateLimitCreate,
		HealthChecker:     storage.Checker,
		HealthTimeout:     cfg.StoragePingTimeout,
		UserService:       user.NewService(storage.Repo, slog.Default()),
	})

	// 4. リスナーの確保
	apiLn, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on API port: %w", err)
	}
	metricsLn, err := net.Listen("tcp", ":"+cfg.MetricsPort)
	if err != nil {
		apiLn.Close()
		return fmt.Errorf("failed to listen on metrics port: %w", err)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServers(ctx, cfg.ShutdownTimeout,
		namedServer{name: "api", ln: apiLn, handler: router},
		namedServer{name: "metrics", ln: metricsLn, handler: metrics.SetupMetricsRoute(reg)},
	)
}

// namedServer はリスナーとハンドラーの組。ログ出力用の名前を持つ。
type namedServer struct {
	name    string
	ln      net.Listener
	handler http.Handler
}

// runServers は全サーバーを起動し、ctxのキャンセルまたはいずれかのサーバーの異常終了で全体を停止する。
// 停止時はshutdownTimeout以内にグレースフルシャットダウンを行う。
func runServers(ctx context.Context, shutdownTimeout time.Duration, servers ...namedServer) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServers := make([]*http.Server, len(servers))
	for i, s := range servers {
		s := s
		srv := &http.Server{
			Handler:      s.handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		httpServers[i] = srv

		g.Go(func() error {
			slog.Info("server starting",
				slog.String("server", s.name),
				slog.String("addr", s.ln.Addr().String()),
			)
			if err := srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server failed: %w", s.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for i, srv := range httpServers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s server shutdown failed: %w", servers[i].name, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}

		slog.Info("servers stopped gracefully")
		return nil
	})

	return g.Wait()
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。Redisではスキーマを持たないため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver != config.StorageDriverPostgres {
		slog.Info("no migrations required for storage driver",
			slog.String("storage_driver", cfg.StorageDriver),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", database.MaskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// healthcheckURL はローカルの/healthエンドポイントのURLを返す。
func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
