package api

import (
	"errors"

	"github.com/gin-gonic/gin"
)

var (
	ErrMissingBearerToken  = errors.New("authorization bearer token is not provided")
	ErrUpstreamUnreachable = errors.New("notification backend is unreachable")
)

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}
