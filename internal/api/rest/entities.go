package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenRVCore/internal/decoder"
	"github.com/KevinKickass/OpenRVCore/internal/entities"
	"github.com/KevinKickass/OpenRVCore/internal/gateway"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

type entityView struct {
	*entities.Entity
	Commandable bool `json:"commandable"`
}

// GET /api/v1/entities
func (s *Server) listEntities(c *gin.Context) {
	all := s.lm.Gateway().Directory().Entities()

	filter := c.Query("type")
	response := make([]entityView, 0, len(all))
	for _, e := range all {
		if filter != "" && e.Type != filter {
			continue
		}
		response = append(response, entityView{Entity: e, Commandable: e.Commandable()})
	}

	c.JSON(http.StatusOK, gin.H{
		"entities": response,
		"count":    len(response),
	})
}

// GET /api/v1/entities/:id
func (s *Server) getEntity(c *gin.Context) {
	e, ok := s.lm.Gateway().Directory().Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("not_found", "entity not found", gin.H{"entity_id": c.Param("id")}))
		return
	}
	c.JSON(http.StatusOK, entityView{Entity: e, Commandable: e.Commandable()})
}

// GET /api/v1/catalog/:dgn
func (s *Server) getCatalogEntry(c *gin.Context) {
	dgn, err := decoder.ParseDGN(c.Param("dgn"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", err.Error(), nil))
		return
	}

	catalog := s.lm.Gateway().Catalog()
	msg, ok := catalog.Lookup(dgn)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("not_found", "dgn not in catalog", gin.H{"dgn": dgn}))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dgn":        dgn,
		"name":       msg.Name,
		"alias":      msg.Alias,
		"parameters": catalog.Parameters(msg),
	})
}

type DecodeRequest struct {
	DGN  string `json:"dgn" binding:"required"`
	Data string `json:"data"`
}

// POST /api/v1/decode
func (s *Server) decodeFrame(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", "invalid request body", err.Error()))
		return
	}

	dgn, err := decoder.ParseDGN(req.DGN)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", err.Error(), nil))
		return
	}
	data, err := decoder.ParseDataHex(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("bad_request", err.Error(), nil))
		return
	}

	c.JSON(http.StatusOK, s.lm.Gateway().Decoder().Decode(dgn, data))
}

// GET /api/v1/frames/latest
func (s *Server) latestFrames(c *gin.Context) {
	snapshot := s.lm.Gateway().Inbound().Latest().Snapshot()

	name := c.Query("name")
	frames := make([]gateway.LatestFrame, 0, len(snapshot))
	for _, f := range snapshot {
		if name != "" && f.Frame.Name != name {
			continue
		}
		frames = append(frames, f)
	}

	c.JSON(http.StatusOK, gin.H{
		"frames": frames,
		"count":  len(frames),
	})
}
