package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	messageUC "github.com/khoahotran/chatmedia/internal/application/usecase/message"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type MessageHandler struct {
	createMessageUC  *messageUC.CreateMessageUseCase
	createWithFileUC *messageUC.CreateMessageWithFileUseCase
	listMessagesUC   *messageUC.ListMessagesUseCase
	maxUploadBytes   int64
	logger           logger.Logger
}

func NewMessageHandler(
	createUC *messageUC.CreateMessageUseCase,
	createWithFileUC *messageUC.CreateMessageWithFileUseCase,
	listUC *messageUC.ListMessagesUseCase,
	maxUploadBytes int64,
	log logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		createMessageUC:  createUC,
		createWithFileUC: createWithFileUC,
		listMessagesUC:   listUC,
		maxUploadBytes:   maxUploadBytes,
		logger:           log,
	}
}

func (h *MessageHandler) CreateMessage(c *gin.Context) {
	senderID, ok := GetUserIDFromGinContext(c)
	if !ok {
		c.Error(apperror.NewPermissionDenied("userID not found in context"))
		return
	}

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperror.NewInvalidInput("invalid JSON body", err))
		return
	}

	output, err := h.createMessageUC.Execute(c.Request.Context(), messageUC.CreateMessageInput{
		SenderID:     senderID.String(),
		ReceiverID:   req.ReceiverID,
		Content:      req.Content,
		Type:         req.Type,
		MultimediaID: req.MultimediaID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, output)
}

// UploadMessage accepts a multipart form with "file", "receiverId" and the
// optional "content" and "type" fields. It answers before transcoding
// finishes.
func (h *MessageHandler) UploadMessage(c *gin.Context) {
	senderID, ok := GetUserIDFromGinContext(c)
	if !ok {
		c.Error(apperror.NewPermissionDenied("userID not found in context"))
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(apperror.NewPayloadTooLarge(h.maxUploadBytes))
			return
		}
		c.Error(apperror.NewInvalidInput("'file' is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.Error(apperror.NewInternal("failed to open file", err))
		return
	}
	defer file.Close()

	output, err := h.createWithFileUC.Execute(c.Request.Context(), messageUC.CreateMessageWithFileInput{
		SenderID:   senderID.String(),
		ReceiverID: c.PostForm("receiverId"),
		Content:    c.PostForm("content"),
		Type:       c.PostForm("type"),
		File:       file,
		Size:       fileHeader.Size,
		Filename:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, output)
}

func (h *MessageHandler) ListMyMessages(c *gin.Context) {
	userID, ok := GetUserIDFromGinContext(c)
	if !ok {
		c.Error(apperror.NewPermissionDenied("userID not found in context"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	output, err := h.listMessagesUC.Execute(c.Request.Context(), userID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, output)
}
