package fleet

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ikido/fleetctl/internal/fleet/streaming"
	"github.com/ikido/fleetctl/internal/jobstore"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerAdminRoutes wires the small HTTP surface §6.4 describes as "the
// core exposes its operations as callable functions; a thin CLI layer
// binds them" — cmd/fleetd binds them as a CLI, and this is the
// equivalent HTTP binding for operators who'd rather curl than shell into
// the host, following the teacher's api.SetupRoutes/HealthCheck split
// (one handler per route, grouped under a path prefix).
func registerAdminRoutes(r *gin.Engine, m *Manager) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "agents": len(m.agents)})
	})

	admin := r.Group("/api/v1/admin")
	admin.GET("/jobs", func(c *gin.Context) {
		opts := jobstore.ListOptions{
			AgentName: c.Query("agent"),
			Status:    c.Query("status"),
		}
		rows, err := m.ListJobs(c.Request.Context(), opts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	})
	admin.GET("/jobs/:id", func(c *gin.Context) {
		job, err := m.Job(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	})
	admin.POST("/trigger/:agent", func(c *gin.Context) {
		var body struct {
			Prompt string `json:"prompt"`
			Resume string `json:"resume"`
		}
		_ = c.ShouldBindJSON(&body)
		result, err := m.Trigger(c.Request.Context(), c.Param("agent"), body.Prompt, body.Resume)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// GET /api/v1/admin/stream[?job=<job-id>] upgrades to a WebSocket and
	// replays fleet events (job:started/output/completed/...) as they're
	// published on the event bus, scoped to one job id when given or to
	// every job otherwise. Clients can narrow an already-open connection
	// later with {"action":"subscribe","job_id":"..."}.
	admin.GET("/stream", func(c *gin.Context) {
		if m.outputHub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job output hub not started"})
			return
		}
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := streaming.NewClient(uuid.New().String(), conn, m.outputHub, m.log)
		m.outputHub.Register(client)
		if jobID := c.Query("job"); jobID != "" {
			client.Subscribe(jobID)
		}
		go client.WritePump()
		go client.ReadPump()
	})
}
