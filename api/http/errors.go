package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/raft"
)

// errBadRequest 表示请求体本身不合法
var errBadRequest = errors.New("bad request")

// statusOf 把错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, collection.ErrQueryState):
		// 子合约返回的错误不反映本服务的状态
		return http.StatusBadGateway
	case errors.Is(err, collection.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, collection.ErrNotFound),
		errors.Is(err, collection.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, collection.ErrDuplicateKey),
		errors.Is(err, collection.ErrAlreadyEnabled):
		return http.StatusConflict
	case errors.Is(err, collection.ErrTypeMismatch),
		errors.Is(err, collection.ErrInvalidLimit),
		errors.Is(err, collection.ErrInvalidIndex),
		errors.Is(err, collection.ErrInvalidField),
		errors.Is(err, collection.ErrInvalidCursor),
		errors.Is(err, collection.ErrCodeIDNotAllowed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, collection.ErrChildInstantiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, raft.ErrNotLeader):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应并中止请求
func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}
