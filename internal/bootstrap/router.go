package bootstrap

import (
	"database/sql"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/cfp-titulos/titulos-backend/internal/api/http"
	cataloghttp "github.com/cfp-titulos/titulos-backend/internal/catalog/http"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/service"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	Catalog     *service.CatalogService
	DB          *sql.DB       // nil for the file backend
	Cache       *redis.Client // nil when the cache is disabled
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Default())

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Cache)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	cataloghttp.Register(api, dep.Catalog)

	return r
}
