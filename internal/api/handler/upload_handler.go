package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zflow/zflow/internal/api/domain"
	"github.com/zflow/zflow/internal/api/dto"
	"github.com/zflow/zflow/shared/apperror"
)

const uploadField = "media"

// UploadHandler stores media files on local disk
type UploadHandler struct {
	logger *slog.Logger
	config UploadConfig
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(deps *Dependencies) *UploadHandler {
	return &UploadHandler{
		logger: deps.Logger,
		config: deps.Upload,
	}
}

// Upload handles POST /api/upload
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxSize+1<<20)

	header, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, h.logger, apperror.Validation(uploadField, "file is too large"))
			return
		}
		writeError(c, h.logger, apperror.Validation(uploadField, "media file is required"))
		return
	}
	if header.Size > h.config.MaxSize {
		writeError(c, h.logger, apperror.Validation(uploadField, "file is too large"))
		return
	}

	src, err := header.Open()
	if err != nil {
		writeError(c, h.logger, apperror.Unexpected("failed to read upload", err))
		return
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		writeError(c, h.logger, apperror.Unexpected("failed to detect media type", err))
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		writeError(c, h.logger, apperror.Unexpected("failed to read upload", err))
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = mtype.Extension()
	}
	name := uuid.New().String() + ext

	size, err := h.save(src, name)
	if err != nil {
		writeError(c, h.logger, apperror.Unexpected("failed to store upload", err))
		return
	}

	h.logger.Info("Media uploaded",
		slog.String("file", name),
		slog.String("mime_type", mtype.String()),
		slog.Int64("size", size),
	)

	c.JSON(http.StatusCreated, dto.UploadResponse{
		MediaURL:     strings.TrimSuffix(h.config.PublicURL, "/") + "/" + name,
		MediaType:    domain.MediaTypeOf(mtype.String()),
		OriginalName: filepath.Base(header.Filename),
		MimeType:     mtype.String(),
		Size:         size,
	})
}

func (h *UploadHandler) save(src io.Reader, name string) (int64, error) {
	if err := os.MkdirAll(h.config.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(h.config.Dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return size, nil
}
