package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qaaqit/identity-service/internal/identity/merge"
	"github.com/qaaqit/identity-service/internal/logger"
)

// AdminHandler exposes the operator-only maintenance surface. The
// merge endpoint is destructive and irreversible; it is never invoked
// from the login path.
type AdminHandler struct {
	executor *merge.Executor
}

func NewAdminHandler(executor *merge.Executor) *AdminHandler {
	return &AdminHandler{executor: executor}
}

func (h *AdminHandler) RegisterRoutes(r *gin.Engine, guard gin.HandlerFunc) {
	admin := r.Group("/admin/identity")
	admin.Use(guard)

	admin.GET("/duplicates", h.DuplicateScan)
	admin.POST("/merge", h.RunMerge)
}

// DuplicateScan is the dry run: it reports what a merge would touch
// without changing anything.
func (h *AdminHandler) DuplicateScan(c *gin.Context) {
	report, err := h.executor.DuplicateScan(c.Request.Context())
	if err != nil {
		logger.Error("duplicate scan failed", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// RunMerge folds every duplicate group into its primary user.
func (h *AdminHandler) RunMerge(c *gin.Context) {
	report, err := h.executor.Run(c.Request.Context())
	if err != nil {
		logger.Error("merge run failed", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "merge failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}
