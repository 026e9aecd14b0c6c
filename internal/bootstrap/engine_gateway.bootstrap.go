package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/execution-engine/internal/config"
	"github.com/krobus00/execution-engine/internal/entity"
	httpHandler "github.com/krobus00/execution-engine/internal/handler/executionengine/http"
	"github.com/krobus00/execution-engine/internal/infrastructure"
	"github.com/krobus00/execution-engine/internal/repository"
	"github.com/krobus00/execution-engine/internal/service/exchange"
	"github.com/krobus00/execution-engine/internal/service/executionengine"
	"github.com/krobus00/execution-engine/internal/service/position"
	"github.com/krobus00/execution-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartEngineGateway wires the execution engine, its HTTP API, and the
// optional write-through collaborators. Postgres, NATS, and Redis are each
// enabled only when configured; the engine runs fully in-memory without them.
func StartEngineGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var orderEngineDB *sqlx.DB
	var historyRepo *repository.OrderHistoryRepository
	if dbCfg, ok := config.Env.Database["order_engine"]; ok && dbCfg.DSN != "" {
		db, err := infrastructure.NewPostgresConnection(ctx, dbCfg)
		util.ContinueOrFatal(err)
		infrastructure.StartPostgresHealthCheck(ctx, db, dbCfg.PingInterval)

		orderEngineDB = db
		historyRepo = repository.NewOrderHistoryRepository(db)
	}

	var nc *nats.Conn
	var js nats.JetStreamContext
	if config.Env.NatsJetstream.URL != "" {
		conn, jsCtx, err := infrastructure.NewJetstream()
		util.ContinueOrFatal(err)
		nc = conn
		js = jsCtx
	}

	var snapshotStore position.SnapshotStore
	var redisStore *position.RedisSnapshotStore
	if redisCfg, ok := config.Env.Redis["position_snapshot"]; ok && redisCfg.CacheDSN != "" {
		store, err := position.NewRedisSnapshotStore(redisCfg.CacheDSN)
		util.ContinueOrFatal(err)
		redisStore = store
		snapshotStore = store
	}

	adapter := exchange.NewPaperExchange(config.Env.PaperExchange)

	engine := executionengine.NewExecutionEngineService(config.Env.Engine, adapter, js, historyRepo, snapshotStore)

	publishers := []entity.Publisher{engine}
	for _, v := range publishers {
		err := v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	err := engine.Start()
	util.ContinueOrFatal(err)

	engineHTTPHandler := httpHandler.NewExecutionEngineHTTPHandler(engine)
	httpMux := http.NewServeMux()
	engineHTTPHandler.Register(httpMux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["engine_gateway_http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	shutdownOps := map[string]operation{
		"execution engine": func(ctx context.Context) error {
			return engine.Stop()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	}
	if orderEngineDB != nil {
		shutdownOps["order engine database"] = func(ctx context.Context) error {
			cancel()
			return orderEngineDB.Close()
		}
	}
	if nc != nil {
		shutdownOps["nats connection"] = func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		}
	}
	if redisStore != nil {
		shutdownOps["position snapshot store"] = func(ctx context.Context) error {
			return redisStore.Close()
		}
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, shutdownOps)

	<-wait
}
