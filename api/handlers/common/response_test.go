package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"mdm/internal/governance"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		kind governance.ErrorKind
		want int
	}{
		{governance.KindNotFound, http.StatusNotFound},
		{governance.KindForbidden, http.StatusForbidden},
		{governance.KindValidation, http.StatusBadRequest},
		{governance.KindAlreadyPending, http.StatusConflict},
		{governance.KindAlreadyResolved, http.StatusConflict},
		{governance.KindCycleDetected, http.StatusUnprocessableEntity},
		{governance.KindReferentialIntegrity, http.StatusUnprocessableEntity},
		{governance.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusOf(tc.kind), tc.kind)
	}
}

func TestFail(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("分类错误返回类别与信息", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		Fail(c, fmt.Errorf("%w: Category c1 is its own ancestor", governance.ErrCycleDetected))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "CycleDetected", resp.Code)
		assert.Contains(t, resp.Message, "own ancestor")
	})

	t.Run("内部错误隐藏细节", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		Fail(c, errors.New("disk on fire"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "disk on fire")
	})
}

func TestCurrentPrincipal(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CurrentPrincipal(c))

	p := &governance.Principal{UserID: "u1", UserRole: governance.UserRoleAdmin, Active: true}
	SetPrincipal(c, p)
	assert.Same(t, p, CurrentPrincipal(c))
	assert.Equal(t, "u1", c.GetString("user_id"))
}
