package common

import (
	"mdm/internal/governance"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// SetPrincipal 由认证中间件写入当前用户
func SetPrincipal(c *gin.Context, p *governance.Principal) {
	c.Set(principalKey, p)
	c.Set("user_id", p.UserID)
}

// CurrentPrincipal 读取当前用户，未认证时返回 nil
func CurrentPrincipal(c *gin.Context) *governance.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*governance.Principal)
	return p
}
