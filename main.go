package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"CampusChat/global/config"
	"CampusChat/logger"
	"CampusChat/module/bus"
	"CampusChat/module/cache"
	chatservice "CampusChat/module/chat/service"
	"CampusChat/module/chat/store"
	"CampusChat/module/presence"
	"CampusChat/module/queue"
	chatgw "CampusChat/service/chat"
	"CampusChat/service/mgo"
	"CampusChat/service/natsx"
	"CampusChat/service/storage/kv"
	"CampusChat/tools/ids"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorf("[boot] load config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	ids.SetNodeID(cfg.Gateway.SnowflakeNode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// shared state store
	rds, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Errorf("[boot] redis: %v", err)
		os.Exit(1)
	}
	defer rds.Close()

	// durable storage
	mongoClient, db, err := mgo.Connect(ctx, cfg.Mongo)
	if err != nil {
		logger.Errorf("[boot] mongo: %v", err)
		os.Exit(1)
	}
	defer mgo.Close(mongoClient)

	chatDB := store.NewMongoDB(db)
	if err := chatDB.EnsureIndexes(ctx); err != nil {
		logger.Errorf("[boot] mongo indexes: %v", err)
		os.Exit(1)
	}

	// work queue
	nc, err := natsx.NewClient(natsx.Config{
		Servers: cfg.Nats.Servers,
		Name:    cfg.Gateway.NodeID,
	})
	if err != nil {
		logger.Errorf("[boot] nats: %v", err)
		os.Exit(1)
	}
	defer nc.Close()
	if err := nc.EnsureStream(cfg.Nats.Stream, []string{cfg.Nats.Subject}); err != nil {
		logger.Errorf("[boot] nats stream: %v", err)
		os.Exit(1)
	}

	accessor := cache.NewAccessor(rds)
	registry := presence.NewRegistry(rds)

	conversations := chatservice.NewConversations(chatDB, accessor)
	messages := chatservice.NewMessages(chatDB, accessor)
	producer := queue.NewProducer(nc, cfg.Nats.Subject)

	// the bus needs the server's emitter and the server's handlers need
	// the bus, so the server is built first and bound afterwards
	server := chatgw.NewServer(cfg.Gateway, chatgw.Deps{
		Registry:      registry,
		Jobs:          producer,
		Conversations: conversations,
		Messages:      messages,
		Store:         rds,
	})
	events := bus.New(rds, registry, server.Emitter(), bus.DefaultChannel)
	readState := chatservice.NewReadState(chatDB, accessor, conversations, events)
	server.Bind(events, readState)

	if err := events.Start(ctx); err != nil {
		logger.Errorf("[boot] event bus: %v", err)
		os.Exit(1)
	}

	worker := queue.NewWorker(chatDB, accessor, events)
	consumer := queue.NewConsumer(nc, worker, natsx.SubscribeOptions{
		Subject:       cfg.Nats.Subject,
		Queue:         cfg.Nats.Queue,
		Durable:       cfg.Nats.Durable,
		AckWait:       cfg.Nats.AckWait,
		MaxAckPending: cfg.Nats.MaxAckPending,
	})
	if err := consumer.Start(ctx, cfg.Gateway.QueueWorkers); err != nil {
		logger.Errorf("[boot] queue consumer: %v", err)
		os.Exit(1)
	}
	defer consumer.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.Gateway.NodeID})
	})
	server.RegisterRoutes(router)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: router,
	}
	go func() {
		logger.Infof("[boot] gateway %s listening on %s", cfg.Gateway.NodeID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] http: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("[boot] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	// the bus stops first so nothing fans out into the closing gateway
	_ = events.Close()
	server.Close()
}
