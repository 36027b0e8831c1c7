package app

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

type LivenessResponse struct {
	Status      string `json:"status"`
	Host        string `json:"host"`
	Environment string `json:"environment"`
	GOMAXPROCS  int    `json:"gomaxprocs"`
}

func (a *App) HandleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.Request = c.Request.WithContext(ctx)

	health := a.db.Health()
	status := http.StatusOK
	if health["status"] != "up" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}

func (a *App) HandleLiveness(c *gin.Context) {
	host, _ := os.Hostname()
	if host == "" {
		host = "unavailable"
	}

	c.JSON(http.StatusOK, LivenessResponse{
		Status:      "up",
		Host:        host,
		Environment: a.cfg.Environment,
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
	})
}
