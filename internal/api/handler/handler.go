package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zflow/zflow/internal/api/auth"
	"github.com/zflow/zflow/internal/api/dto"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/shared/apperror"
	"github.com/zflow/zflow/shared/database"
)

const principalKey = "principal"

// Enqueuer adds jobs to the named queue
type Enqueuer interface {
	Add(ctx context.Context, queueName, jobName string, data any) (*queue.Job, error)
}

// UploadConfig controls where uploaded media lands
type UploadConfig struct {
	Dir       string
	PublicURL string
	MaxSize   int64
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	DBClient *database.Client
	Storage  *storage.Storage
	Auth     *auth.Service
	Queues   Enqueuer
	Events   realtime.Publisher
	Hub      *realtime.Hub
	Upload   UploadConfig
}

// SetPrincipal stores the authenticated caller on the request context
func SetPrincipal(c *gin.Context, p *auth.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the caller set by the auth middleware
func PrincipalFrom(c *gin.Context) *auth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

// BearerToken extracts the token of an "Authorization: Bearer" header
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// writeError maps an application error to its HTTP status
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		status int
		body   = dto.ErrorResponse{Error: err.Error()}
	)

	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		status = http.StatusBadRequest
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			body.Field = appErr.Field
		}
	case apperror.KindAuthentication:
		status = http.StatusUnauthorized
	case apperror.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		body.Error = "internal server error"
	}

	c.AbortWithStatusJSON(status, body)
}

// WriteError is writeError for callers outside the package
func WriteError(c *gin.Context, logger *slog.Logger, err error) {
	writeError(c, logger, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func clamp(v, def, upper int) int {
	if v <= 0 {
		return def
	}
	if v > upper {
		return upper
	}
	return v
}
