package errors

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrReconcileFailed, cause)

	assert.Equal(t, "Reconciliation failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, ErrReconcileFailed.Err, "wrapping must not mutate the shared value")
}

func TestErrorMiddleware_RendersAppError(t *testing.T) {
	r := gin.New()
	r.Use(ErrorMiddleware())
	r.GET("/x", func(c *gin.Context) { _ = c.Error(ErrInvalidPaymentID) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":400,"message":"Invalid payment id"}`, w.Body.String())
}

func TestErrorMiddleware_WrapsPlainError(t *testing.T) {
	r := gin.New()
	r.Use(ErrorMiddleware())
	r.GET("/x", func(c *gin.Context) { _ = c.Error(stderrors.New("boom")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
