package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenNosePort/internal/interfaces"
	"github.com/KevinKickass/OpenNosePort/internal/storage"
	"github.com/KevinKickass/OpenNosePort/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GET /api/v1/events?session_id=&station_id=&limit=
func (s *Server) listEvents(c *gin.Context) {
	var filter storage.EventFilter

	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("EVENTS_400", "Invalid session id", raw))
			return
		}
		filter.SessionID = id
	}
	if raw := c.Query("station_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("EVENTS_400", "Invalid station id", raw))
			return
		}
		filter.StationID = id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("EVENTS_400", "Invalid limit", raw))
			return
		}
		filter.Limit = limit
	}

	records, err := s.lm.ListEvents(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, interfaces.ErrStorageDisabled) {
			c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("EVENTS_503", "Event storage is disabled", nil))
			return
		}
		s.logger.Error("Failed to list events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("EVENTS_500", "Failed to list events", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": records,
		"count":  len(records),
	})
}
