package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"chat_web/internal/api"
	"chat_web/internal/logger"
	"chat_web/internal/middleware"
	"chat_web/internal/models"
	"chat_web/internal/online"
	"chat_web/internal/relay"
	"chat_web/internal/repository"
	"chat_web/internal/service"
	"chat_web/internal/storage"
	"chat_web/internal/utils"
	"chat_web/pkg/config"
)

func main() {
	// 載入應用程式配置
	// 依序套用預設值、設定檔、DM_ 環境變數與命令列參數
	flags := config.NewFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	// 初始化資料庫連接
	db, err := storage.NewDatabase(cfg.DB)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}

	// 自動遷移資料庫結構
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		zlog.Fatal("failed to auto migrate database", zap.Error(err))
	}

	// 初始化 repositories，設定 mongo.uri 時訊息改存 MongoDB
	repos := repository.NewRepositories(db)
	var mongo *storage.Mongo
	if cfg.Mongo.URI != "" {
		mongo, err = storage.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			zlog.Fatal("failed to connect to mongo", zap.Error(err))
		}
		if err := repository.EnsureMessageIndexes(ctx, mongo.DB); err != nil {
			zlog.Fatal("failed to create mongo indexes", zap.Error(err))
		}
		repos.Message = repository.NewMongoMessageRepository(mongo.DB, repos.User)
		zlog.Info("using mongo message store", zap.String("database", cfg.Mongo.Database))
	}

	// 連線註冊表由 main 建立並傳給所有需要的元件
	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	registry := service.NewRegistry(nodeID, zlog)

	var natsRelay *relay.NATSRelay
	if cfg.Relay.URL != "" {
		natsRelay, err = relay.Connect(relay.Config{URL: cfg.Relay.URL, Subject: cfg.Relay.Subject, Name: "chat-" + nodeID}, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to nats", zap.Error(err))
		}
		if err := registry.AttachRelay(natsRelay); err != nil {
			zlog.Fatal("failed to subscribe relay", zap.Error(err))
		}
	}

	// 設定 redis.addr 時在線名單跨節點共用，本節點的紀錄定期以 Registry 的實際連線數續期
	var rdb *redis.Client
	var tracker service.OnlineTracker
	var redisTracker *online.RedisTracker
	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	if cfg.Redis.Addr != "" {
		rdb, err = storage.NewRedis(ctx, cfg.Redis)
		if err != nil {
			zlog.Fatal("failed to connect to redis", zap.Error(err))
		}
		redisTracker = online.NewRedisTracker(rdb, online.Config{
			Prefix: cfg.Redis.Prefix,
			NodeID: registry.NodeID(),
			TTL:    cfg.Redis.OnlineTTL,
		}, zlog)
		go redisTracker.Run(syncCtx, registry.RoomSizes)
		tracker = redisTracker
	}

	// 初始化 services
	tokens := utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.TTL)
	services := service.NewServices(repos, service.Options{
		Tokens:   tokens,
		Registry: registry,
		Tracker:  tracker,
		Router: service.RouterConfig{
			MaxContentLength: cfg.Chat.MaxContentLength,
			TypingTTL:        cfg.Chat.TypingTTL,
			BroadcastSeen:    cfg.Chat.BroadcastSeen,
			StoreTimeout:     cfg.Chat.StoreTimeout,
		},
		WebSocket: service.WebSocketConfig{
			ReadLimit:  cfg.WebSocket.ReadLimit,
			PongWait:   cfg.WebSocket.PongWait,
			PingPeriod: cfg.WebSocket.PingPeriod,
			WriteWait:  cfg.WebSocket.WriteWait,
			SendBuffer: cfg.WebSocket.SendBuffer,
		},
		DefaultPicture: strings.TrimRight(cfg.Server.PublicURL, "/") + "/uploads/default-picture.jpg",
		Logger:         zlog,
	})

	// 設置 Gin 路由
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(zlog.Named("http")), gin.Recovery())
	api.SetupRoutes(r, services, cfg.Server.AllowedOrigins)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "X-Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	server := &http.Server{Addr: cfg.Server.Address, Handler: handler}

	// 啟動伺服器
	go func() {
		zlog.Info("server listening", zap.String("addr", cfg.Server.Address), zap.String("node", nodeID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("failed to run server", zap.Error(err))
		}
	}()

	// 依序關閉：先停止接受請求，再關閉連線與外部資源
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				zlog.Info("graceful shutdown initiated")
				var errs []error
				errs = append(errs, server.Shutdown(ctx))
				registry.Close()
				// 等待連線處理完離開房間與在線名單後才關閉外部資源
				errs = append(errs, services.Gateway.Drain(ctx))
				stopSync()
				if natsRelay != nil {
					errs = append(errs, natsRelay.Close())
				}
				if redisTracker != nil {
					// Drain 逾時後 ctx 已結束，仍要清掉本節點的在線紀錄
					closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					errs = append(errs, redisTracker.Close(closeCtx))
					cancel()
				}
				if rdb != nil {
					errs = append(errs, rdb.Close())
				}
				if mongo != nil {
					errs = append(errs, mongo.Close(ctx))
				}
				errs = append(errs, db.Close())
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	zlog.Info("server exited", zap.Int("code", exitCode))
	_ = zlog.Sync()
	os.Exit(exitCode)
}
