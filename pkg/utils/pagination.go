package utils

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

func ParsePagination(c *fiber.Ctx) PaginationParams {
	page := parseIntDefault(c.Query("page"), 1)
	limit := parseIntDefault(c.Query("limit"), 20)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

func ApplyPagination(db *gorm.DB, p PaginationParams) *gorm.DB {
	return db.Offset(p.Offset).Limit(p.Limit)
}

// ParseSort reads "sort=field,dir" and maps field through allowed to a column.
// Unknown fields fall back to fallback; direction defaults to ascending.
func ParseSort(c *fiber.Ctx, allowed map[string]string, fallback string) string {
	raw := c.Query("sort")
	if raw == "" {
		return fallback
	}

	field, dir, _ := strings.Cut(raw, ",")
	column, ok := allowed[field]
	if !ok {
		return fallback
	}
	if strings.EqualFold(dir, "desc") {
		return column + " DESC"
	}
	return column + " ASC"
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
