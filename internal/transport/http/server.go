package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"nexora-chat/internal/bootstrap"
	"nexora-chat/internal/model"
	mysqlClient "nexora-chat/internal/platform/mysql"
	"nexora-chat/internal/transport/http/handler"
	"nexora-chat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.AccessLog(app.Logger.Named("http"), app.Metrics))

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, dependencyChecks(app)...)
	router.GET("/api/health", healthHandler.Live)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	authHandler := handler.NewAuthHandler(app.Auth)
	userHandler := handler.NewUserHandler(app.Users)
	knowledgeHandler := handler.NewKnowledgeHandler(app.Knowledge, app.Config.Upload.MaxBytes, app.Config.RAG.AsyncIngest)
	requireAuth := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/verify", requireAuth, authHandler.Verify)

	adminGroup := api.Group("/admin")
	adminGroup.Use(requireAuth, middleware.RequireRole(app.Auth, model.RoleAdmin))
	adminGroup.GET("/users", userHandler.List)
	adminGroup.POST("/users", userHandler.Create)
	adminGroup.POST("/upload-pdf", knowledgeHandler.Upload)
	adminGroup.GET("/pdfs", knowledgeHandler.ListDocuments)
	adminGroup.GET("/jobs/:id", knowledgeHandler.JobStatus)

	chatGroup := api.Group("/chat")
	chatGroup.Use(requireAuth)
	chatGroup.POST("/ask", knowledgeHandler.Ask)

	return router
}

func dependencyChecks(app *bootstrap.App) []handler.DependencyCheck {
	var checks []handler.DependencyCheck
	if app.MySQL != nil {
		checks = append(checks, handler.DependencyCheck{Name: "mysql", Check: func(ctx context.Context) error {
			return mysqlClient.Ping(ctx, app.MySQL)
		}})
	}
	if app.Redis != nil {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}})
	}
	if app.MQConn != nil {
		checks = append(checks, handler.DependencyCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}})
	}
	checks = append(checks, handler.DependencyCheck{Name: "vector_store", Check: func(context.Context) error {
		_, err := app.Pipeline.Store().Stores()
		return err
	}})
	return checks
}
