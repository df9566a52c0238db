package docstore

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"presensi-backend/internal/platform/auth"
)

type Handler struct{ store *LocalStore }

func RegisterRoutes(r gin.IRoutes, store *LocalStore) {
	h := &Handler{store: store}
	r.POST("/documents", h.Upload)
	r.GET("/documents/:ref", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), h.Get)
}

func errorBody(code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}

// POST /documents (multipart: file)
func (h *Handler) Upload(c *gin.Context) {
	if limit := h.store.MaxBytes(); limit > 0 {
		// multipart のヘッダ分だけ余裕を持たせる
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+64<<10)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_ARGUMENT", "multipart field 'file' is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_ARGUMENT", "cannot open upload"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_ARGUMENT", "cannot read upload"))
		return
	}

	meta, err := h.store.Store(c.Request.Context(), data, Metadata{
		OriginalName: fh.Filename,
		UploadedBy:   auth.CurrentUserID(c),
	})
	switch {
	case errors.Is(err, ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorBody("INVALID_ARGUMENT", err.Error()))
		return
	case errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrEmpty):
		c.JSON(http.StatusUnsupportedMediaType, errorBody("INVALID_ARGUMENT", err.Error()))
		return
	case err != nil:
		log.Printf("[ERROR] store document: %v", err)
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", "internal error"))
		return
	}
	c.Header("Location", "/documents/"+meta.Ref)
	c.JSON(http.StatusCreated, meta)
}

// GET /documents/:ref
func (h *Handler) Get(c *gin.Context) {
	meta, err := h.store.Lookup(c.Request.Context(), c.Param("ref"))
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", "document not found"))
		return
	}
	if err != nil {
		log.Printf("[ERROR] lookup document: %v", err)
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", "internal error"))
		return
	}
	c.JSON(http.StatusOK, meta)
}
