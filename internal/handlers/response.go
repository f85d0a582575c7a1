package handlers

import (
	"errors"
	"fmt"

	"libreria/internal/config"
	"libreria/internal/middleware"
	"libreria/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// bodyError reports a request body that could not be parsed or validated.
type bodyError struct {
	message string
	fields  map[string]string
	err     error
}

func (e *bodyError) Error() string { return e.message + ": " + e.err.Error() }

// bindBody parses the JSON body into dst and validates it.
func bindBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return &bodyError{message: "Invalid request body", err: err}
	}
	return validateStruct(dst)
}

// bindOptionalBody is bindBody for endpoints whose body may be empty.
func bindOptionalBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return validateStruct(dst)
	}
	return bindBody(c, dst)
}

func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &bodyError{message: "Validation failed", err: err}
	}
	errorMessages := make(map[string]string)
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return &bodyError{message: "Validation failed", fields: errorMessages, err: err}
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		body *bodyError
		ve   *models.ValidationError
		ec   *models.EmptyCartError
		nf   *models.NotFoundError
		ise  *models.InvalidStateError
		sto  *models.InsufficientStockError
		fnd  *models.InsufficientFundsError
		ext  *models.ExternalProcessorError
	)
	switch {
	case errors.As(err, &body), errors.As(err, &ve), errors.As(err, &ec):
		return fiber.StatusBadRequest
	case errors.As(err, &nf):
		return fiber.StatusNotFound
	case errors.As(err, &ise), errors.Is(err, models.ErrConflict):
		return fiber.StatusConflict
	case errors.As(err, &sto), errors.As(err, &fnd):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &ext):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// responder writes error responses and logs them for one handler.
type responder struct {
	logger *logrus.Logger
	module string
}

func (r responder) fail(c *fiber.Ctx, funcName, message string, err error) error {
	status := statusFor(err)
	body := fiber.Map{"message": message, "error": err.Error()}

	var (
		be  *bodyError
		sto *models.InsufficientStockError
		ext *models.ExternalProcessorError
	)
	switch {
	case errors.As(err, &be):
		body["message"] = be.message
		body["error"] = be.err.Error()
		if be.fields != nil {
			body["errors"] = be.fields
		}
	case errors.As(err, &sto):
		body["shortfall"] = fiber.Map{
			"product_id": sto.ProductID,
			"title":      sto.Title,
			"kind":       sto.Shortfall,
			"requested":  sto.Requested,
			"available":  sto.Available,
		}
	case errors.As(err, &ext):
		body["needs_retry"] = ext.NeedsRetry
	}

	data := map[string]any{"path": c.Path(), "method": c.Method(), "status": status}
	if status >= fiber.StatusInternalServerError {
		config.LogError(r.logger, r.module, funcName, message, data, err)
	} else {
		r.logger.WithFields(logrus.Fields{"module": r.module, "funcName": funcName, "status": status}).
			WithError(err).Warn(message)
	}
	return c.Status(status).JSON(body)
}

// currentActor returns the caller stored by middleware.AuthRequired.
func currentActor(c *fiber.Ctx) (models.Actor, error) {
	actor, ok := middleware.Actor(c)
	if !ok {
		return models.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
	}
	return actor, nil
}
