package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/service"
	ws "github.com/dancegen/api/internal/websocket"
	"github.com/dancegen/api/pkg/response"
)

// Routes bundles everything mounted by Register
type Routes struct {
	Dance      *DanceHandler
	Upload     *UploadHandler
	Hub        *ws.Hub
	Jobs       *service.DanceService
	OutputsDir string
}

// Register mounts the API under prefix. Produced videos are served from
// /outputs at the root regardless of the prefix.
func Register(app *fiber.App, prefix string, r *Routes) {
	if r.OutputsDir != "" {
		app.Static("/outputs", r.OutputsDir, fiber.Static{
			Browse: false,
		})
	}

	var router fiber.Router = app
	if prefix != "" {
		router = app.Group(prefix)
	}

	router.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	router.Get("/health", r.Dance.Health)

	router.Post("/upload", r.Upload.Upload)
	router.Delete("/upload/:uploadId", r.Upload.DeleteUpload)

	router.Post("/generate", r.Dance.Generate)
	router.Get("/status/:jobId", r.Dance.Status)
	router.Get("/download/:jobId/:artifactType", r.Dance.Download)
	router.Delete("/cleanup/:jobId", r.Dance.Cleanup)

	if r.Hub != nil {
		registerWebSocket(router, r.Hub, r.Jobs)
	}
}

func registerWebSocket(router fiber.Router, hub *ws.Hub, jobs *service.DanceService) {
	wsGroup := router.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsGroup.Get("/jobs/:jobId", func(c *fiber.Ctx) error {
		if _, err := jobs.Job(c.Params("jobId")); err != nil {
			return response.NotFound(c, "Job not found")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID, func() (model.Job, error) {
			return jobs.Job(jobID)
		})
	}))
}
