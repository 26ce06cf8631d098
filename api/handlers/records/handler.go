package records

import (
	"mdm/api/handlers/common"
	"mdm/internal/governance"
	"mdm/internal/mdm"

	"github.com/gin-gonic/gin"
)

// Handler 治理记录的通用 CRUD 与层级查询，按记录类型注册到各自路径
type Handler struct {
	svc *mdm.Service
}

// NewHandler 创建 Handler 实例
func NewHandler(svc *mdm.Service) *Handler {
	return &Handler{svc: svc}
}

// Register 为每种记录类型注册路由，如 /categories、/approval-rules
func (h *Handler) Register(rg *gin.RouterGroup) {
	for _, kind := range governance.Kinds {
		coll, err := h.svc.Collection(kind)
		if err != nil {
			continue
		}
		g := rg.Group("/" + kind.Slug())
		g.GET("", h.list(coll))
		g.POST("", h.create(coll))
		g.GET("/:id", h.get(coll))
		g.PUT("/:id", h.update(coll))
		g.PATCH("/:id", h.update(coll))
		g.DELETE("/:id", h.delete(coll))
		if kind.Hierarchical() {
			g.GET("/tree", h.tree(coll))
			g.GET("/:id/ancestors", h.ancestors(coll))
		}
	}
	rg.GET("/entities/:id/validation", h.ValidateEntity)
}

func (h *Handler) list(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := coll.ListAny(common.CurrentPrincipal(c))
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.List(c, items, coll.Count())
	}
}

func (h *Handler) get(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := coll.GetAny(common.CurrentPrincipal(c), c.Param("id"))
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.Success(c, rec)
	}
}

func (h *Handler) create(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil || len(raw) == 0 {
			common.BadRequest(c, "请求体不能为空")
			return
		}
		rec, err := coll.CreateJSON(c.Request.Context(), common.CurrentPrincipal(c), raw)
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.Created(c, rec)
	}
}

func (h *Handler) update(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil || len(raw) == 0 {
			common.BadRequest(c, "请求体不能为空")
			return
		}
		rec, err := coll.UpdateJSON(c.Request.Context(), common.CurrentPrincipal(c), c.Param("id"), raw)
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.Success(c, rec)
	}
}

func (h *Handler) delete(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coll.Delete(c.Request.Context(), common.CurrentPrincipal(c), c.Param("id")); err != nil {
			common.Fail(c, err)
			return
		}
		common.Success(c, gin.H{"id": c.Param("id"), "deleted": true})
	}
}

func (h *Handler) tree(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		tree, err := coll.Tree(common.CurrentPrincipal(c))
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.Success(c, tree)
	}
}

func (h *Handler) ancestors(coll mdm.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, err := coll.Ancestors(common.CurrentPrincipal(c), c.Param("id"))
		if err != nil {
			common.Fail(c, err)
			return
		}
		common.Success(c, chain)
	}
}

// ValidateEntity 按属性校验规则检查实体取值，仅提示不阻断
// GET /api/v1/entities/:id/validation
func (h *Handler) ValidateEntity(c *gin.Context) {
	issues, err := h.svc.ValidateEntity(common.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, gin.H{"valid": len(issues) == 0, "issues": issues})
}
