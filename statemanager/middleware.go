package statemanager

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// OperationIDKey is the echo.Context key an operation's tracking ID is
// stored under by Middleware.
const OperationIDKey = "operation_id"

// Middleware wraps a route group with automatic operation tracking: every
// request starts an operation tagged with its path and method, and the
// operation is completed (successfully or with the handler's error) once
// the handler returns.
func (m *Manager) Middleware(operationType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			opID := uuid.New().String()

			m.StartOperation(opID, operationType, map[string]interface{}{
				"path":   c.Path(),
				"method": c.Request().Method,
			})
			c.Set(OperationIDKey, opID)

			err := next(c)
			m.CompleteOperation(opID, err)
			return err
		}
	}
}

// GetOperationID retrieves the current request's operation ID from the
// echo context. Returns "" if Middleware was not applied to this route.
func GetOperationID(c echo.Context) string {
	if opID, ok := c.Get(OperationIDKey).(string); ok {
		return opID
	}
	return ""
}
