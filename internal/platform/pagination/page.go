// Package pagination normalizes list limits for lifecycle queries.
package pagination

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Min     int
	Max     int
}

// SessionList is the limit policy for listing sessions.
var SessionList = PageSizeConfig{Default: 100, Min: 1, Max: 200}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize < cfg.Min {
		pageSize = cfg.Min
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// ParseLimit validates a raw limit value.
//
// An empty value yields cfg.Default. Numeric values are truncated toward zero
// and must fall inside [cfg.Min, cfg.Max]; anything else is rejected instead of
// clamped.
func ParseLimit(raw string, cfg PageSizeConfig) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cfg.Default, nil
	}
	numeric, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return 0, fmt.Errorf("invalid limit: %q", raw)
	}
	limit := math.Trunc(numeric)
	if limit < float64(cfg.Min) {
		return 0, fmt.Errorf("limit %v below minimum %d", limit, cfg.Min)
	}
	if cfg.Max > 0 && limit > float64(cfg.Max) {
		return 0, fmt.Errorf("limit %v above maximum %d", limit, cfg.Max)
	}
	return int(limit), nil
}
