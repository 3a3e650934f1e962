package httpapi

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed assets
var dashboardAssets embed.FS

// registerDashboardPage serves the embedded operator console. The page
// itself is static; it talks to /dashboard/api with a bearer token.
func registerDashboardPage(r *gin.Engine) {
	r.GET("/dashboard", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/dashboard/")
	})
	r.GET("/dashboard/", func(c *gin.Context) {
		page, err := dashboardAssets.ReadFile("assets/index.html")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dashboard unavailable"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	})
}
