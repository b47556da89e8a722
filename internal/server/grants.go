package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
)

type createGrantRequest struct {
	FeatureKey string           `json:"feature_key"`
	Enabled    *bool            `json:"enabled,omitempty"`
	Unlimited  *bool            `json:"unlimited,omitempty"`
	Limits     map[string]int64 `json:"limits,omitempty"`
}

func (s *Server) CreateGrant(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req createGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.grantSvc.Create(c.Request.Context(), grantdomain.CreateRequest{
		UserID:     userID,
		FeatureKey: strings.TrimSpace(req.FeatureKey),
		Enabled:    req.Enabled,
		Unlimited:  req.Unlimited,
		Limits:     req.Limits,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeGrant(c *gin.Context) {
	err := s.grantSvc.Revoke(c.Request.Context(), grantdomain.RevokeRequest{
		UserID:     strings.TrimSpace(c.Param("user_id")),
		FeatureKey: strings.TrimSpace(c.Param("feature_key")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListGrants(c *gin.Context) {
	resp, err := s.grantSvc.ListByUser(c.Request.Context(), strings.TrimSpace(c.Param("user_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
