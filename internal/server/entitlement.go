package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/pairwell/entitlements/internal/catalog"
	entitlementdomain "github.com/pairwell/entitlements/internal/entitlement/domain"
)

func (s *Server) GetUserEntitlements(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.entitlementSvc.GetAll(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

func (s *Server) GetUserEntitlement(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key := catalog.FeatureKey(strings.TrimSpace(c.Param("feature_key")))

	granted, err := s.entitlementSvc.HasFeature(c.Request.Context(), userID, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limits, err := s.entitlementSvc.GetLimits(c.Request.Context(), userID, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"key":     key,
		"granted": granted,
		"limits":  limits,
	}})
}

func (s *Server) GetUserPremiumFlag(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	premium, err := s.flags.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id": userID.String(),
		"premium": premium,
	}})
}

func parseUserID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("user_id"))
	parsed, err := snowflake.ParseString(raw)
	if err != nil || parsed == 0 {
		return 0, entitlementdomain.ErrInvalidUser
	}
	return parsed, nil
}
