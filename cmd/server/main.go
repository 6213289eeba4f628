// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/handler"
	"docuchat-go/internal/middleware"
	"docuchat-go/internal/pipeline"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/service"
	"docuchat-go/pkg/database"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/es"
	"docuchat-go/pkg/kafka"
	"docuchat-go/pkg/llm"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/payment"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)
	payment.InitStripe(cfg.Billing.StripeSecretKey)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	fileRepo := repository.NewFileRepository(database.DB, database.RDB)
	messageRepo := repository.NewMessageRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepo, jwtManager)
	uploadService := service.NewUploadService(fileRepo, userRepo, cfg.MinIO, cfg.Upload)
	fileService := service.NewFileService(fileRepo, cfg.Elasticsearch, cfg.MinIO, cfg.Upload)
	searchService := service.NewSearchService(embeddingClient, es.ESClient, cfg.Elasticsearch)
	messageService := service.NewMessageService(messageRepo, fileRepo)
	chatService := service.NewChatService(messageRepo, fileRepo, searchService, llmClient, cfg.Chat)
	billingService := service.NewBillingService(userRepo, cfg.Billing)

	// 6. 初始化文档入库管道 (Processor)
	processor := pipeline.NewProcessor(
		embeddingClient,
		cfg.Elasticsearch,
		cfg.MinIO,
		cfg.Embedding,
		cfg.Chat,
		fileRepo,
		chunkRepo,
		userRepo,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		authHandler := handler.NewAuthHandler(userService)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
			auth.GET("/callback", middleware.AuthMiddleware(jwtManager, userService), authHandler.Callback)
		}

		users := apiV1.Group("/users")
		{
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Upload 路由组：预签名直传 + 上传确认
		upload := apiV1.Group("/upload")
		upload.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			upload.POST("/presign", handler.NewUploadHandler(uploadService).Presign)
			upload.POST("/complete", handler.NewUploadHandler(uploadService).Complete)
		}

		// File 路由组：文件查询、状态轮询、删除、下载，以及文件内的消息流
		files := apiV1.Group("/files")
		files.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			fileHandler := handler.NewFileHandler(fileService)
			files.GET("", fileHandler.List)
			files.GET("/resolve", fileHandler.Resolve)
			files.GET("/:id", fileHandler.Get)
			files.GET("/:id/status", fileHandler.Status)
			files.GET("/:id/download-url", fileHandler.DownloadURL)
			files.DELETE("/:id", fileHandler.Delete)

			messageHandler := handler.NewMessageHandler(messageService, chatService, cfg.Chat)
			files.GET("/:id/messages", messageHandler.List)
			files.POST("/:id/messages", messageHandler.Send)
		}

		// Billing 路由组：webhook 不经过认证中间件，靠签名校验
		billingHandler := handler.NewBillingHandler(billingService)
		billing := apiV1.Group("/billing")
		{
			billing.POST("/webhook", billingHandler.Webhook)

			authed := billing.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/plan", billingHandler.GetPlan)
				authed.POST("/session", billingHandler.CreateSession)
			}
		}
	}

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
