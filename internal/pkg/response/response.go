package response

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/repoqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error replies with http 200 and a coded failure envelope.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, AsCodeErr(uint32(code), message))
}

// Classify maps an error onto its wire code and a message safe to show users.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, "invalid request"
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrRetrievalUnavailable):
		return errcode.ErrRetrievalUnavailable, "vector store is unavailable, please retry later"
	case errors.Is(err, appErr.ErrSchemaViolation):
		return errcode.ErrGenerationFailed, "model returned an invalid answer"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func FromError(c *gin.Context, err error) {
	code, msg := Classify(err)
	Error(c, code, msg)
}
