package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListFeatures(c *gin.Context) {
	cat := s.catalog.Get()

	keys := cat.Keys()
	out := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		spec, _ := cat.Feature(key)
		out = append(out, gin.H{
			"key":            spec.Key,
			"category":       spec.Category,
			"default_limits": spec.DefaultLimits,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.catalog.Get().Plans()})
}
