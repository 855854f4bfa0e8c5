package public

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nfern/imagegate/internal/adapters/openroute"
	"github.com/nfern/imagegate/internal/app"
	"github.com/nfern/imagegate/internal/auth"
	"github.com/nfern/imagegate/internal/httpserver/httputil"
)

const apiKeyHeader = "X-API-Key"

// RegisterRoutes mounts the public gateway endpoints.
func RegisterRoutes(fiberApp *fiber.App, container *app.Container) {
	h := &gatewayHandler{container: container}
	fiberApp.Post("/process-image", h.processImage)
	fiberApp.Get("/health", h.health)
	fiberApp.Get("/record-info", h.recordInfo)
	fiberApp.Get("/models", h.listModels)
}

type gatewayHandler struct {
	container *app.Container
}

// processImage drives one request through its states: authenticate the caller
// key, validate the upload, invoke the inference adapter, and frame exactly
// one response.
func (h *gatewayHandler) processImage(c *fiber.Ctx) error {
	result, err := h.authenticate(c)
	if err != nil {
		return h.writeAuthError(c, err, result)
	}

	prompt := strings.TrimSpace(c.FormValue("prompt"))
	if prompt == "" {
		return httputil.WriteCategorizedError(c, fiber.StatusBadRequest, "BadRequest", "prompt is required")
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return httputil.WriteCategorizedError(c, fiber.StatusBadRequest, "BadRequest", "image file is required")
	}
	if contentType := fileHeader.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
		return httputil.WriteCategorizedError(c, fiber.StatusBadRequest, "NotAnImage", "uploaded file must be an image")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return httputil.WriteCategorizedError(c, fiber.StatusBadRequest, "BadRequest", "failed to read image upload")
	}
	imageBytes, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		return httputil.WriteCategorizedError(c, fiber.StatusBadRequest, "BadRequest", "failed to read image upload")
	}

	h.container.Logger.Info().
		Str("record_id", result.RecordID).
		Int("image_bytes", len(imageBytes)).
		Int("prompt_len", len(prompt)).
		Msg("processing image request")

	image, err := h.container.Adapter.ProcessImage(c.UserContext(), imageBytes, prompt, h.container.Config.Inference.Model)
	if err != nil {
		h.container.Metrics.RecordUpstreamCall("inference", "error")
		return h.writeAdapterError(c, err)
	}
	h.container.Metrics.RecordUpstreamCall("inference", "ok")

	c.Set(fiber.HeaderContentType, image.ContentType())
	c.Set("X-Usage-Count", strconv.FormatInt(result.Count, 10))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=generated_image.%s", image.Format))
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(image.Data)
}

func (h *gatewayHandler) health(c *fiber.Ctx) error {
	status := "disconnected"
	if h.container.Keystore.TestConnection(c.UserContext()) {
		status = "connected"
		h.container.Metrics.RecordUpstreamCall("keystore", "ok")
	} else {
		h.container.Metrics.RecordUpstreamCall("keystore", "error")
	}
	return c.JSON(fiber.Map{"status": status})
}

func (h *gatewayHandler) recordInfo(c *fiber.Ctx) error {
	result, err := h.authenticate(c)
	if err != nil {
		return h.writeAuthError(c, err, result)
	}
	return c.JSON(result.Record)
}

func (h *gatewayHandler) listModels(c *fiber.Ctx) error {
	model := h.container.Config.Inference.Model
	return c.JSON(fiber.Map{
		"supported_models": []string{model},
		"current_model":    model,
	})
}

func (h *gatewayHandler) authenticate(c *fiber.Ctx) (auth.Result, error) {
	result, err := h.container.Verifier.Verify(c.UserContext(), c.Get(apiKeyHeader))
	if err != nil {
		h.container.Metrics.RecordUpstreamCall("keystore", "error")
		return result, err
	}
	h.container.Metrics.RecordUpstreamCall("keystore", "ok")
	return result, nil
}

// writeAuthError maps verification failures to a 401 with a stable category.
func (h *gatewayHandler) writeAuthError(c *fiber.Ctx, err error, result auth.Result) error {
	category := "InvalidKey"
	switch {
	case errors.Is(err, auth.ErrMissingKey):
		category = "MissingKey"
	case errors.Is(err, auth.ErrExpired):
		category = "Expired"
	case errors.Is(err, auth.ErrStoreUnreachable):
		category = "StoreUnreachable"
	case errors.Is(err, auth.ErrMalformedExpiry):
		category = "MalformedExpiry"
	}
	detail := result.Reason
	if detail == "" {
		detail = "unauthorized"
	}
	return httputil.WriteCategorizedError(c, fiber.StatusUnauthorized, category, detail)
}

// writeAdapterError maps adapter failures to a 500 with a stable category. Raw
// upstream bodies are logged inside the adapter and never forwarded here.
func (h *gatewayHandler) writeAdapterError(c *fiber.Ctx, err error) error {
	var upstreamErr *openroute.UpstreamError
	switch {
	case errors.As(err, &upstreamErr):
		return httputil.WriteCategorizedError(c, fiber.StatusInternalServerError,
			fmt.Sprintf("UpstreamNonSuccess(%d)", upstreamErr.Status), "inference endpoint returned an error")
	case errors.Is(err, openroute.ErrUpstreamUnavailable):
		return httputil.WriteCategorizedError(c, fiber.StatusInternalServerError,
			"UpstreamUnavailable", "inference endpoint unreachable")
	case errors.Is(err, openroute.ErrNoImage):
		return httputil.WriteCategorizedError(c, fiber.StatusInternalServerError,
			"NoImageProduced", "model produced no image, try adjusting the prompt")
	case errors.Is(err, openroute.ErrMalformedImage):
		return httputil.WriteCategorizedError(c, fiber.StatusInternalServerError,
			"MalformedImageData", "generated image data could not be decoded")
	default:
		h.container.Logger.Error().Err(err).Msg("image processing failed")
		return httputil.WriteCategorizedError(c, fiber.StatusInternalServerError,
			"InternalError", "image processing failed")
	}
}
