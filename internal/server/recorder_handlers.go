package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"streamvault/internal/recorder"
)

type StartRecordingRequest struct {
	Address         string `json:"address"`
	DurationSeconds int    `json:"duration_seconds"`
	Destination     string `json:"destination"`
}

func (s *FiberServer) startRecording(c *fiber.Ctx) error {
	var req StartRecordingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "address is required",
		})
	}
	if req.DurationSeconds <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "duration_seconds must be positive",
		})
	}
	destination := req.Destination
	if destination == "" {
		destination = s.cfg.Upload.Destination
	}

	sess, err := s.controller.Start(c.Context(), req.Address,
		time.Duration(req.DurationSeconds)*time.Second, destination)
	if err != nil {
		switch {
		case errors.Is(err, recorder.ErrAlreadyRecording):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Already recording",
			})
		case errors.Is(err, recorder.ErrConnectionExhausted),
			errors.Is(err, recorder.ErrInvalidGeometry),
			errors.Is(err, recorder.ErrStopped):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to start recording",
			})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": sess.ID,
		"output":     sess.OutputPath,
	})
}

func (s *FiberServer) stopRecording(c *fiber.Ctx) error {
	waitUpload := c.QueryBool("wait_upload", false)

	if err := s.controller.Stop(c.Context(), waitUpload); err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Not recording",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "stopped"})
}

func (s *FiberServer) recordingStatus(c *fiber.Ctx) error {
	return c.JSON(s.controller.Status())
}

func (s *FiberServer) sessionStatus(c *fiber.Ctx) error {
	status, ok := s.controller.SessionStatus(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown session",
		})
	}
	return c.JSON(status)
}
