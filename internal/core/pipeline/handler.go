package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"codegen/internal/core/job"
)

const sseHeartbeatInterval = 15 * time.Second

type Handler struct {
	pipeline *Service
	jobs     *job.Service
}

func NewHandler(pipeline *Service, jobs *job.Service) *Handler {
	return &Handler{pipeline: pipeline, jobs: jobs}
}

type createRequest struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

type clarifyRequest struct {
	Answer string `json:"answer"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// HandleCreate accepts a new extraction request and queues the pipeline run.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid body")
	}
	jobID, err := h.pipeline.Enqueue(c.Context(), req.URL, req.Prompt)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  jobID,
		"status":  string(job.StatusPending),
	})
}

// HandleGet returns the full job record including whatever artifacts exist.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	j, err := h.jobs.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found")
	}
	return c.JSON(fiber.Map{"success": true, "job": j})
}

// HandleClarify feeds an answer into a job parked on a clarifying question.
func (h *Handler) HandleClarify(c *fiber.Ctx) error {
	var req clarifyRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Answer) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "answer is required")
	}
	j, err := h.pipeline.ResumeWithClarification(c.Context(), c.Params("jobId"), req.Answer)
	if err != nil {
		if j == nil {
			return errorJSON(c, fiber.StatusConflict, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job_id": j.ID, "status": string(j.Status)})
}

// HandleStream forwards job updates and trace events over SSE until the
// client disconnects or the job reaches a terminal state.
func (h *Handler) HandleStream(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if _, err := h.jobs.Get(c.Context(), jobID); err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub := h.jobs.Subscribe(ctx, jobID)
		defer sub.Close()

		fmt.Fprintf(w, "event: connected\ndata: {\"job_id\":%q}\n\n", jobID)
		if err := w.Flush(); err != nil {
			return
		}

		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()
		ch := sub.Channel()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if strings.HasPrefix(msg.Payload, "trace:") {
					fmt.Fprintf(w, "event: trace\ndata: %s\n\n", strings.TrimPrefix(msg.Payload, "trace:"))
				} else {
					j, err := h.jobs.Get(ctx, jobID)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "event: status\ndata: {\"job_id\":%q,\"status\":%q}\n\n", jobID, j.Status)
					if terminal(j.Status) {
						_ = w.Flush()
						return
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-heartbeat.C:
				fmt.Fprint(w, ":heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func terminal(s job.Status) bool {
	return s == job.StatusCompleted || s == job.StatusFailed || s == job.StatusAwaitingClarify
}
