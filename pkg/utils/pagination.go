package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const MaxPageSize = 100

// CursorParams represents cursor pagination parameters
type CursorParams struct {
	Cursor   string
	PageSize int
}

// GetCursorParams extracts cursor pagination parameters from request
func GetCursorParams(c echo.Context, defaultPageSize int) CursorParams {
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))

	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return CursorParams{
		Cursor:   c.QueryParam("cursor"),
		PageSize: pageSize,
	}
}
