package web

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeEmbeddedAsset writes a single embedded file with cache headers.
func ServeEmbeddedAsset(contextGin *gin.Context, filesystem fs.FS, path string, contentType string) {
	data, readErr := fs.ReadFile(filesystem, path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "public, max-age=3600")
	contextGin.Data(http.StatusOK, contentType, data)
}
