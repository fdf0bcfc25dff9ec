package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/khoahotran/chatmedia/pkg/auth"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type RouterDeps struct {
	JWT        *auth.JWTService
	Logger     logger.Logger
	Messages   *MessageHandler
	Multimedia *MultimediaHandler
	WS         *WSHandler
	// LocalFs is set when blobs live on the local driver and are served here.
	LocalFs       afero.Fs
	PublicBaseURL string
}

func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Logger), ErrorMiddleware(d.Logger))

	authMiddleware := AuthMiddleware(d.JWT, d.Logger)

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })

		private := api.Group("/")
		private.Use(authMiddleware)
		{
			messages := private.Group("/messages")
			{
				messages.POST("", d.Messages.CreateMessage)
				messages.POST("/upload", d.Messages.UploadMessage)
				messages.GET("/me", d.Messages.ListMyMessages)
			}
			private.GET("/multimedia/:id", d.Multimedia.GetMultimedia)
		}
	}

	if d.WS != nil {
		router.GET("/ws", d.WS.Connect)
	}
	if d.LocalFs != nil && d.PublicBaseURL != "" && d.PublicBaseURL[0] == '/' {
		router.StaticFS(d.PublicBaseURL, afero.NewHttpFs(d.LocalFs))
	}
	return router
}
