package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func success(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, SuccessResponse{Success: true, Message: message, Data: data})
}

func failure(c echo.Context, code int, message string) error {
	return c.JSON(code, ErrorResponse{Success: false, Error: message})
}

func Ok(c echo.Context, data any) error {
	return success(c, http.StatusOK, "", data)
}

func OkWithMessage(c echo.Context, message string, data any) error {
	return success(c, http.StatusOK, message, data)
}

func Created(c echo.Context, message string, data any) error {
	return success(c, http.StatusCreated, message, data)
}

// Accepted answers requests whose work was handed to the job queue.
func Accepted(c echo.Context, message string, data any) error {
	return success(c, http.StatusAccepted, message, data)
}

func BadRequest(c echo.Context, err error) error {
	return failure(c, http.StatusBadRequest, err.Error())
}

func BadRequestWithMessage(c echo.Context, message string) error {
	return failure(c, http.StatusBadRequest, message)
}

func Unauthorized(c echo.Context) error {
	return failure(c, http.StatusUnauthorized, "Invalid or missing API key")
}

func NotFound(c echo.Context, message string) error {
	return failure(c, http.StatusNotFound, message)
}

func Conflict(c echo.Context, message string) error {
	return failure(c, http.StatusConflict, message)
}

func InternalServerError(c echo.Context, err error) error {
	return failure(c, http.StatusInternalServerError, err.Error())
}

// ServiceUnavailable is returned while the job queue backend is unreachable.
func ServiceUnavailable(c echo.Context, err error) error {
	return failure(c, http.StatusServiceUnavailable, err.Error())
}
