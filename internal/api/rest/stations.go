package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/machine"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"github.com/KevinKickass/OpenNosePort/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CommandRequest carries either one line or a batch. A batch stops at the
// first protocol error.
type CommandRequest struct {
	Line  string   `json:"line"`
	Lines []string `json:"lines"`
}

type CommandResponse struct {
	Replies []string `json:"replies"`
	Error   string   `json:"error,omitempty"`
}

// GET /api/v1/stations
func (s *Server) listStations(c *gin.Context) {
	list, err := s.lm.Controller().Snapshots(c.Request.Context())
	if err != nil {
		s.controllerError(c, "STATION_503", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/v1/stations/:id
func (s *Server) getStation(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("STATION_400", "Invalid station id", c.Param("id")))
		return
	}

	snap, err := s.lm.Controller().Station(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, station.ErrInvalidStationID) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("STATION_404", "Station not found", id))
			return
		}
		s.controllerError(c, "STATION_503", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// POST /api/v1/commands
func (s *Server) executeCommands(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("COMMAND_400", "Invalid request body", err.Error()))
		return
	}

	lines := req.Lines
	if len(lines) == 0 {
		lines = []string{req.Line}
	}

	replies, err := s.lm.Controller().SubmitAll(c.Request.Context(), lines)
	resp := CommandResponse{Replies: replies}
	if resp.Replies == nil {
		resp.Replies = []string{}
	}

	if err != nil {
		if command.IsProtocolError(err) {
			resp.Error = err.Error()
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		s.controllerError(c, "COMMAND_503", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) controllerError(c *gin.Context, code string, err error) {
	if errors.Is(err, machine.ErrNotRunning) {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(code, "Control loop not running", nil))
		return
	}
	s.logger.Error("Controller request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse("INTERNAL_500", "Controller request failed", err.Error()))
}
