package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medportal/internal/media/sniffer"
	"medportal/internal/service"
)

func (h HandlerSet) UploadPicture(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	if h.avatars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	url, err := h.avatars.SetPicture(c.Request.Context(), service.PictureInput{
		Subject:  identity.Subject,
		File:     file,
		Declared: sniffer.MimeTypeFromHTTP(http.Header(header.Header)),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pictureUrl": url})
}
