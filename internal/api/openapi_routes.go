package api

import (
	_ "embed"
	"os"

	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var openapiSpec []byte

// registerOpenAPIRoutes 提供 /openapi 与 /docs/redoc
func registerOpenAPIRoutes(engine *gin.Engine) {
	engine.GET("/openapi", serveOpenAPI)
	engine.GET("/openapi.yaml", serveOpenAPI)
	engine.GET("/docs/redoc", serveRedoc)
}

func serveOpenAPI(c *gin.Context) {
	// 优先使用磁盘上的规格文件，便于部署时替换；否则用编译进来的副本
	if _, err := os.Stat("docs/api/openapi.yaml"); err == nil {
		c.Header("Content-Type", "application/yaml; charset=utf-8")
		c.File("docs/api/openapi.yaml")
		return
	}
	c.Data(200, "application/yaml; charset=utf-8", openapiSpec)
}

func serveRedoc(c *gin.Context) {
	// 优先使用本地 redoc 资源，离线可用；否则回退到 CDN
	scriptTag := "<script src=\"https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js\"></script>"
	if _, err := os.Stat("static/vendors/redoc/redoc.standalone.js"); err == nil {
		scriptTag = "<script src=\"/static/vendors/redoc/redoc.standalone.js\"></script>"
	}

	html := `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>SpeedFog Racing API - Redoc</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>body{margin:0;padding:0}</style>
  </head>
  <body>
    <redoc spec-url="/openapi"></redoc>
    ` + scriptTag + `
  </body>
</html>`

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(200, html)
}
