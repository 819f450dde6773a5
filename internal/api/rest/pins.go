package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/types"
	"github.com/gin-gonic/gin"
)

type SetPinRequest struct {
	Level *bool `json:"level" binding:"required"`
}

// GET /api/v1/pins
func (s *Server) listPins(c *gin.Context) {
	states := s.lm.PinStates()
	if states == nil {
		states = []pins.State{}
	}
	c.JSON(http.StatusOK, gin.H{
		"backend": s.lm.Config().IO.Backend,
		"pins":    states,
	})
}

// PUT /api/v1/sim/pins/:pin drives a simulated input and runs one sweep so
// the resulting events are emitted before the response.
func (s *Server) setSimPin(c *gin.Context) {
	bank := s.lm.SimBank()
	if bank == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SIM_404", "IO backend is not simulated", s.lm.Config().IO.Backend))
		return
	}

	n, err := strconv.ParseUint(c.Param("pin"), 10, 32)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SIM_400", "Invalid pin", c.Param("pin")))
		return
	}

	var req SetPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SIM_400", "Invalid request body", err.Error()))
		return
	}

	pin := pins.Pin(n)
	if err := bank.SetInput(pin, *req.Level); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("SIM_409", "Pin is not an input", err.Error()))
		return
	}

	if err := s.lm.Controller().Poll(c.Request.Context()); err != nil {
		s.controllerError(c, "SIM_503", err)
		return
	}

	c.JSON(http.StatusOK, pins.State{Pin: pin, Mode: bank.Mode(pin).String(), Level: bank.Level(pin)})
}
