package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clawlink/clawlink/internal/infra"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus reports the bridge snapshot alongside server uptime.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"version": s.version,
		"uptime":  formatUptime(time.Since(s.startedAt)),
		"runtime": infra.GetRuntimeInfo(),
	}
	if s.snapshot != nil {
		snap := s.snapshot()
		resp["bridge"] = gin.H{
			"state":       snap.State,
			"sessionKey":  snap.SessionKey,
			"pendingRpcs": snap.PendingRPCs,
			"turnActive":  snap.TurnActive,
			"emitted":     snap.Emitted,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogs(c *gin.Context) {
	if s.logBuffer == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []LogEntry{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.logBuffer.Entries()})
}

func (s *Server) handleJournal(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return strconv.Itoa(h) + "h" + strconv.Itoa(m) + "m"
	}
	return strconv.Itoa(m) + "m" + strconv.Itoa(sec) + "s"
}
