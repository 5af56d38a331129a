package bootstrap

import "github.com/gin-gonic/gin"

func SetGinMode(env string) {
	if env == "production" || env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
}
