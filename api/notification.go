package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

// forwardToUpstream proxies the current request to the upstream notification
// API with the caller's bearer, mirroring status and body back. The gateway
// never caches: every call is a fresh round trip.
func (server *Server) forwardToUpstream(c *gin.Context, method, upstreamPath string) (*resty.Response, bool) {
	bearer := c.MustGet(bearerTokenKey).(string)

	req := server.restyClient.R().
		SetContext(c.Request.Context()).
		SetAuthToken(bearer).
		SetQueryParamsFromValues(c.Request.URL.Query())

	if c.Request.Body != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err))
			return nil, false
		}
		if len(body) > 0 {
			req.SetHeader("Content-Type", c.ContentType()).SetBody(body)
		}
	}

	res, err := req.Execute(method, upstreamPath)
	if err != nil {
		log.Error().Err(err).Str("path", upstreamPath).Msg("upstream request failed")
		c.JSON(http.StatusBadGateway, errorResponse(ErrUpstreamUnreachable))
		return nil, false
	}

	return res, true
}

// mirror writes the upstream response through unchanged.
func mirror(c *gin.Context, res *resty.Response) {
	contentType := res.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(res.StatusCode(), contentType, res.Bytes())
}

func (server *Server) listNotifications(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodGet, "/notifications")
	if !ok {
		return
	}
	mirror(c, res)
}

func (server *Server) getNotification(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodGet, "/notifications/"+c.Param("id"))
	if !ok {
		return
	}
	mirror(c, res)
}

func (server *Server) markNotificationRead(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodPatch, "/notifications/"+c.Param("id")+"/read")
	if !ok {
		return
	}
	mirror(c, res)
}

func (server *Server) markAllNotificationsRead(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodPost, "/notifications/mark-all-read")
	if !ok {
		return
	}
	mirror(c, res)
}

// deleteNotification removes a notification upstream. An upstream 404 means
// the target is already gone, which is the desired end state: answer 204 as
// if this call had deleted it.
func (server *Server) deleteNotification(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodDelete, "/notifications/"+c.Param("id"))
	if !ok {
		return
	}

	if res.StatusCode() == http.StatusNotFound {
		c.Status(http.StatusNoContent)
		return
	}
	mirror(c, res)
}

func (server *Server) getNotificationStats(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodGet, "/notifications/stats/summary")
	if !ok {
		return
	}
	mirror(c, res)
}

func (server *Server) getPreferences(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodGet, "/notifications/preferences")
	if !ok {
		return
	}
	mirror(c, res)
}

func (server *Server) updatePreferences(c *gin.Context) {
	res, ok := server.forwardToUpstream(c, http.MethodPut, "/notifications/preferences")
	if !ok {
		return
	}
	mirror(c, res)
}
