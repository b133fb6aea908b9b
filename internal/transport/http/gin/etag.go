package httpgin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cleanhome/bookingd/internal/domain"
	"github.com/gin-gonic/gin"
)

// bookingETag derives the validator from the booking version, which moves on
// every committed change.
func bookingETag(b *domain.Booking) string {
	return fmt.Sprintf(`W/"%s-%d"`, b.ID, b.Version)
}

// writeJSONWithETag writes v with the given ETag, or a content hash when tag
// is empty. A matching If-None-Match gets 304 without a body. Responses are
// private: they carry customer data.
func writeJSONWithETag(c *gin.Context, status int, v any, tag string) {
	b, err := json.Marshal(v)
	if err != nil {
		respondErr(c, err)
		return
	}
	if tag == "" {
		sum := sha256.Sum256(b)
		tag = `W/"` + hex.EncodeToString(sum[:16]) + `"`
	}

	c.Header("ETag", tag)
	c.Header("Cache-Control", "private, no-cache")
	if c.GetHeader("If-None-Match") == tag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(status, "application/json; charset=utf-8", b)
}
