package webedge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/munkey/munkeyd/internal/kv"
)

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/link", s.handleLink)
	engine.GET("/db/:name/_changes", s.handleChanges)
	engine.GET("/db/:name/passwords", s.handleGetAttachment)
	engine.PUT("/db/:name/passwords", s.handlePutAttachment)
}

// handleLink serves the read-only node identity document, per §4.7.
func (s *Server) handleLink(c *gin.Context) {
	entries := s.registry.List()
	vaults := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		vaults = append(vaults, gin.H{"nickname": e.Name, "vaultId": e.ID})
	}

	var activePeerList []gin.H
	if s.activity != nil {
		for _, d := range s.activity.IterAll() {
			activePeerList = append(activePeerList, gin.H{"hostname": d.Host, "portNum": d.Port})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"uniqueId":       s.identity.UniqueID,
		"vaults":         vaults,
		"activePeerList": activePeerList,
	})
}

const longPollTimeout = 25 * time.Second

// handleChanges serves GET /db/<name>/_changes?since=N&feed=normal|longpoll,
// the wire contract internal/kv's replication client drives, per
// SPEC_FULL.md §4.6's expansion.
func (s *Server) handleChanges(c *gin.Context) {
	v, ok := s.registry.GetByName(c.Param("name"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	feed := c.DefaultQuery("feed", "normal")

	changes, lastSeq, err := v.Store().Changes(c.Request.Context(), since)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	if feed == "longpoll" && len(changes) == 0 {
		deadline := time.Now().Add(longPollTimeout)
		ticker := time.NewTicker(250 * time.Millisecond)
	pollLoop:
		for time.Now().Before(deadline) {
			select {
			case <-c.Request.Context().Done():
				ticker.Stop()
				return
			case <-ticker.C:
				changes, lastSeq, err = v.Store().Changes(c.Request.Context(), since)
				if err != nil {
					ticker.Stop()
					c.Status(http.StatusInternalServerError)
					return
				}
				if len(changes) > 0 {
					break pollLoop
				}
			}
		}
		ticker.Stop()
	}

	body, err := kv.EncodeChangesResponse(changes, lastSeq)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleGetAttachment(c *gin.Context) {
	v, ok := s.registry.GetByName(c.Param("name"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	data, mime, rev, err := v.Store().GetAttachment(c.Request.Context(), "vault", "passwords")
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("ETag", rev)
	c.Data(http.StatusOK, mime, data)
}

func (s *Server) handlePutAttachment(c *gin.Context) {
	v, ok := s.registry.GetByName(c.Param("name"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if err := v.SetContent(c.Request.Context(), body); err != nil {
		c.Status(http.StatusConflict)
		return
	}
	c.Status(http.StatusOK)
}
