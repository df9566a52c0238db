package requestid

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	Header = "X-Request-ID"
	CtxKey = "request_id"
)

// Middleware: X-Request-ID を引き継ぐ（無ければ採番）し、完了時に1行ログを出す
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(CtxKey, id)
		c.Header(Header, id)

		start := time.Now()
		c.Next()
		log.Printf("[REQ] id=%s %s %s status=%d dur=%s",
			id, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func FromContext(c *gin.Context) string {
	return c.GetString(CtxKey)
}
