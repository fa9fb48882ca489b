package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/lanelink/internal/config"
	"github.com/danmuck/lanelink/internal/link"
	"github.com/danmuck/lanelink/internal/protocol/route"
)

type monitor struct {
	link    *link.Link
	cfg     config.MonitorConfig
	scheme  route.Scheme
	started time.Time
}

func (m *monitor) registerRoutes(router *gin.Engine) {
	router.GET("/health", m.health)
	router.GET("/ready", m.ready)
	router.GET("/status", m.status)
	router.GET("/tallies", m.tallies)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/command/:opcode", m.command)
	router.POST("/run/:opcode", m.run)
}

func (m *monitor) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *monitor) ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (m *monitor) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device":      m.cfg.Link.Device,
		"scheme":      m.scheme.String(),
		"queue_depth": m.link.QueueDepth(),
		"uptime":      time.Since(m.started).String(),
	})
}

func (m *monitor) tallies(c *gin.Context) {
	t := m.link.Tallies()
	c.JSON(http.StatusOK, gin.H{
		"errors":     t.ErrorCount,
		"unexpected": t.UnexpectedCount,
	})
}

func (m *monitor) command(c *gin.Context) {
	op, ok := parseOpcode(c)
	if !ok {
		return
	}
	if err := m.link.PostCommand(op); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"opcode": op})
}

func (m *monitor) run(c *gin.Context) {
	op, ok := parseOpcode(c)
	if !ok {
		return
	}
	if err := m.link.PostRun(op); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"opcode": op})
}

func parseOpcode(c *gin.Context) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param("opcode"), 0, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid opcode"})
		return 0, false
	}
	return uint32(v), true
}
