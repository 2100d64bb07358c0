package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/extendamix/api/internal/middleware"
	"github.com/extendamix/api/internal/model"
	"github.com/extendamix/api/internal/registry"
	"github.com/extendamix/api/internal/service"
	"github.com/extendamix/api/pkg/response"
)

type ExtendHandler struct {
	service   *service.ExtendService
	validator *validator.Validate
}

func NewExtendHandler(svc *service.ExtendService, v *validator.Validate) *ExtendHandler {
	return &ExtendHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/extend/start
func (h *ExtendHandler) Start(c *fiber.Ctx) error {
	var req model.ExtendStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ownerID := middleware.GetUserID(c)

	result, err := h.service.Submit(c.Context(), ownerID, &req)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidPath) {
			return response.InvalidPath(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/extend/status/:jobId
func (h *ExtendHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/extend/cancel/:jobId
func (h *ExtendHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
