package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/service"
	"github.com/extendamix/api/internal/upload"
	"github.com/extendamix/api/pkg/response"
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Init handles POST /api/upload/init
func (h *UploadHandler) Init(c *fiber.Ctx) error {
	var req model.UploadInitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Init(&req)
	if err != nil {
		if errors.Is(err, upload.ErrTooLarge) || errors.Is(err, upload.ErrDisallowedType) || errors.Is(err, upload.ErrInvalidSize) {
			return response.UploadRejected(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Chunk handles POST /api/upload/:uploadId/chunk
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	if uploadID == "" {
		return response.ValidationError(c, "Upload ID is required", nil)
	}

	sess, err := h.service.ReceiveChunk(uploadID, c.Body())
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		if errors.Is(err, upload.ErrFinished) {
			return response.ValidationError(c, "Upload already finished", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, sess)
}

// Progress handles GET /api/upload/:uploadId/progress
func (h *UploadHandler) Progress(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	if uploadID == "" {
		return response.ValidationError(c, "Upload ID is required", nil)
	}

	sess, err := h.service.Progress(uploadID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, sess)
}

// Complete handles POST /api/upload/:uploadId/complete
func (h *UploadHandler) Complete(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	if uploadID == "" {
		return response.ValidationError(c, "Upload ID is required", nil)
	}

	sess, err := h.service.Complete(uploadID)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.OK(c, sess)
}

// Cancel handles DELETE /api/upload/:uploadId
func (h *UploadHandler) Cancel(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")
	if uploadID == "" {
		return response.ValidationError(c, "Upload ID is required", nil)
	}

	if err := h.service.Cancel(uploadID); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
