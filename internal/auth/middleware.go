package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// NameKey is the gin context key holding the authenticated token name.
const NameKey = "auth_name"

// GinAuth rejects requests without a valid token. The token is read from
// "Authorization: Bearer <token>" or from HTTP basic auth, where the user
// name selects the token. A nil Service lets every request through.
func (s *Service) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s == nil {
			c.Next()
			return
		}
		name, err := s.authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="redeployr"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(NameKey, name)
		c.Next()
	}
}

func (s *Service) authenticate(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return s.Authenticate("", strings.TrimSpace(parts[1]))
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		return s.Authenticate(user, pass)
	}
	return "", ErrInvalidCredentials
}
