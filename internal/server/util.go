package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/redeployr/internal/deployer"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeAbsPath accepts "" or an absolute, already clean path. Request
// supplied paths end up as working dirs and log/pid files.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p
	}
	return clean == p || clean == trimmed
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error   string        `json:"error"`
	Kind    deployer.Kind `json:"kind,omitempty"`
	PID     int           `json:"pid,omitempty"`
	Command string        `json:"command,omitempty"`
}

// statusFor maps a restart error to its HTTP status and response body.
func statusFor(err error) (int, errorResp) {
	resp := errorResp{Error: err.Error()}
	var de *deployer.Error
	switch {
	case errors.As(err, &de):
		resp.Kind, resp.PID, resp.Command = de.Kind, de.PID, de.Command
		switch de.Kind {
		case deployer.KindLookupFailed:
			return http.StatusBadGateway, resp
		case deployer.KindStopTimeout:
			return http.StatusGatewayTimeout, resp
		default:
			return http.StatusInternalServerError, resp
		}
	case errors.Is(err, deployer.ErrInvalidInput):
		return http.StatusBadRequest, resp
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
