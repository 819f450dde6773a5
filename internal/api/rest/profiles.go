package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/profiles"
	"github.com/KevinKickass/OpenNosePort/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	entries := s.lm.ListProfiles()

	s.logger.Debug("Listing profiles",
		zap.Strings("search_paths", s.lm.Config().Profiles.SearchPaths),
		zap.Int("count", len(entries)))

	c.JSON(http.StatusOK, gin.H{
		"profiles": entries,
		"count":    len(entries),
	})
}

// POST /api/v1/profiles/:name/apply
func (s *Server) applyProfile(c *gin.Context) {
	name := c.Param("name")

	lines, err := s.lm.ApplyProfile(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, profiles.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Profile not found", name))
		case errors.Is(err, profiles.ErrInvalidProfile):
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROFILE_400", "Invalid profile", err.Error()))
		case command.IsProtocolError(err):
			c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("PROFILE_422", "Profile rejected by the rig", err.Error()))
		default:
			s.controllerError(c, "PROFILE_503", err)
		}
		return
	}

	s.logger.Info("Profile applied", zap.String("profile", name), zap.Int("commands", len(lines)))
	c.JSON(http.StatusOK, gin.H{
		"profile":  name,
		"commands": lines,
	})
}
