package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Notifications streams the caller's notifications as server-sent events
// until the client goes away.
func (h *Handlers) Notifications(c *gin.Context) {
	if h.hub == nil {
		c.Status(http.StatusNoContent)
		return
	}
	userID := currentUser(c)
	ch := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(userID, ch)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Kind, msg)
			return true
		}
	})
}
