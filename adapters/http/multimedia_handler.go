package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	mediaUC "github.com/khoahotran/chatmedia/internal/application/usecase/media"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

type MultimediaHandler struct {
	getMultimediaUC *mediaUC.GetMultimediaUseCase
}

func NewMultimediaHandler(getUC *mediaUC.GetMultimediaUseCase) *MultimediaHandler {
	return &MultimediaHandler{getMultimediaUC: getUC}
}

func (h *MultimediaHandler) GetMultimedia(c *gin.Context) {
	userID, ok := GetUserIDFromGinContext(c)
	if !ok {
		c.Error(apperror.NewPermissionDenied("userID not found in context"))
		return
	}

	m, err := h.getMultimediaUC.Execute(c.Request.Context(), mediaUC.GetMultimediaInput{
		RequesterID:  userID,
		MultimediaID: c.Param("id"),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ToMultimediaDTO(m))
}
