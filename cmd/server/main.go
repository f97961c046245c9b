package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/castlab/studio/gateway/signal"
	gwtransport "github.com/castlab/studio/gateway/transport"
	"github.com/castlab/studio/internal/config"
	"github.com/castlab/studio/internal/httputil"
	"github.com/castlab/studio/internal/jwt"
	"github.com/castlab/studio/internal/log"
	"github.com/castlab/studio/internal/mongo"
	"github.com/castlab/studio/internal/otel"
	"github.com/castlab/studio/internal/redis"
	"github.com/castlab/studio/internal/retry"
	"github.com/castlab/studio/internal/workflow"
	wsws "github.com/castlab/studio/internal/wsevent/websocket"
	roomstore "github.com/castlab/studio/rooms/store"
	roomtransport "github.com/castlab/studio/rooms/transport"
	userstore "github.com/castlab/studio/users/store"
)

type Config struct {
	App     config.App      `mapstructure:"app"`
	APIHttp httputil.Config `mapstructure:"api_http"`
	WSHttp  httputil.Config `mapstructure:"ws_http"`
	Redis   redis.Config    `mapstructure:"redis"`
	Mongo   mongo.Config    `mapstructure:"mongo"`
	Otel    otel.Config     `mapstructure:"otel"`

	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	RedisConnGuardPrefix string `mapstructure:"redis_conn_guard_prefix"`
	ConnGuardEnabled     bool   `mapstructure:"conn_guard_enabled"`

	JoinLookupTimeout time.Duration `mapstructure:"join_lookup_timeout"`
	EmptyRoomLinger   time.Duration `mapstructure:"empty_room_linger"`
	UserCacheSize     int           `mapstructure:"user_cache_size"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("allowed_origins", []string{"*"})
		v.SetDefault("redis_conn_guard_prefix", "studio")
		v.SetDefault("conn_guard_enabled", true)
		v.SetDefault("join_lookup_timeout", "5s")
		v.SetDefault("empty_room_linger", "30s")
		v.SetDefault("user_cache_size", 2000)

		config.Setup(v, "app")
		redis.Setup(v, "redis")
		mongo.Setup(v, "mongo")
		otel.Setup(v, "otel")
		httputil.Setup(v, "api_http")
		httputil.Setup(v, "ws_http")

		// override default addrs to ease testing
		v.SetDefault("api_http.addr", "0.0.0.0:8080")
		v.SetDefault("ws_http.addr", "0.0.0.0:8081")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting studio backend...")

	mongoClient, err := mongo.NewClient(ctx, &config.Mongo)
	if err != nil {
		logger.Fatal("Failed to create Mongo client", log.Error(err))
	}
	pingRetry := retry.New(logger.Module("MongoPing"), time.Second, 5*time.Second, 30*time.Second)
	if err := pingRetry.Do(ctx, func() error { return mongo.Ping(mongoClient) }); err != nil {
		logger.Fatal("Failed to connect to MongoDB", log.Error(err))
	}
	db := mongoClient.Database(config.Mongo.Database)

	redisClient := redis.NewClient(&config.Redis)
	if err := redis.Ping(redisClient); err != nil {
		logger.Fatal("Failed to connect to Redis", log.Error(err))
	}

	jwtAuth := jwt.NewAuth(config.JWTSecret)
	clock := clockwork.NewRealClock()

	roomStore := roomstore.NewMongoStore(db, clock, logger.Module("RoomStore"))
	userStore, err := userstore.NewCachedStore(
		userstore.NewMongoStore(db, logger.Module("UserStore")),
		config.UserCacheSize,
		logger.Module("UserCache"),
	)
	if err != nil {
		logger.Fatal("Failed to create user store", log.Error(err))
	}

	serverID := uuid.New().String()
	connGuard := signal.NewNopGuard()
	if config.ConnGuardEnabled {
		connGuard = signal.NewConnGuard(
			redisClient,
			config.RedisConnGuardPrefix,
			serverID,
			logger.Module("ConnGuard"),
		)
	}
	if err := connGuard.Start(ctx); err != nil {
		logger.Fatal("Failed to start connection guard", log.Error(err))
	}

	keeper := signal.NewHousekeeper(roomStore, config.EmptyRoomLinger, logger.Module("Housekeeper"))

	signalServer := signal.NewServer(
		userStore,
		roomStore,
		connGuard,
		keeper,
		config.JoinLookupTimeout,
		clock,
		logger.Module("Signal"),
	)
	hook := signal.NewWSHook(signalServer, jwtAuth, logger.Module("WSHook"))
	wsServer := wsws.NewServerWithHandler(
		signalServer.Handler,
		hook,
		config.AllowedOrigins,
		logger.Module("WS"),
	)

	apiRouter := roomtransport.NewRouter(
		roomStore,
		jwtAuth,
		config.AllowedOrigins,
		logger.Module("RoomsAPI"),
	)
	gwRouter := gwtransport.NewRouter(
		signalServer,
		wsServer.HandleWebSocket,
		logger.Module("Gateway"),
	)

	apiServer := httputil.NewServer(&config.APIHttp, apiRouter.Handler())
	wsHTTPServer := httputil.NewServer(&config.WSHttp, gwRouter.Handler())

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("Starting rooms API server", log.String("addr", config.APIHttp.Addr))
		return apiServer.Listen()
	})
	g.Go(func() error {
		logger.Info("Starting gateway server", log.String("addr", config.WSHttp.Addr))
		return wsHTTPServer.Listen()
	})
	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", log.Error(err))
		}
	}()

	// Graceful shutdown
	cleanup := func(ctx context.Context) {
		_ = wsHTTPServer.Shutdown(ctx)
		_ = apiServer.Shutdown(ctx)

		keeper.Stop()
		connGuard.Stop()

		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis client", log.Error(err))
		}
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error("Error closing Mongo client", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
