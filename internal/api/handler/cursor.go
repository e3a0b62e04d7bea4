package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/shared/apperror"
)

// DecodeMessageCursor parses an opaque "createdAt|messageId" cursor
func DecodeMessageCursor(cursorStr string) (*storage.MessageCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, apperror.Validation("cursor", "invalid cursor")
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 || parts[1] == "" {
		return nil, apperror.Validation("cursor", "invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, apperror.Validation("cursor", "invalid createdAt in cursor")
	}

	return &storage.MessageCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		MessageID: parts[1],
	}, nil
}

func EncodeMessageCursor(cursor *storage.MessageCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.MessageID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
