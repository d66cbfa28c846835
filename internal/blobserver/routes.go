package blobserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/openmined/treesync/internal/blobapi"
	"github.com/openmined/treesync/internal/version"
)

// SetupRoutes builds the HTTP handler of the blob server.
func SetupRoutes(cfg *Config, store Store) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	blobH := NewBlobHandler(store)

	r.Use(Logger())
	r.Use(gin.Recovery())
	r.Use(GZIP())
	r.Use(cors.Default())
	if cfg.TLSEnabled() {
		r.Use(HSTS())
	}

	r.GET("/", IndexHandler)
	r.GET(blobapi.PathHealth, HealthHandler)

	v1 := r.Group("/api/v1")
	if cfg.Rate != "" {
		limit, err := RateLimiter(cfg.Rate)
		if err != nil {
			return nil, err
		}
		v1.Use(limit)
	}
	if cfg.Token != "" {
		v1.Use(TokenAuth(cfg.Token))
	}
	{
		v1.GET("/blob/list", blobH.List)
		v1.GET("/blob/stat", blobH.Stat)
		v1.PUT("/blob/upload", blobH.Upload)
		v1.POST("/blob/delete", blobH.Delete)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, blobapi.APIError{
			Code:    blobapi.CodeInvalidRequest,
			Message: "not found",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
