package utils

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var def T
	if len(defaults) > 0 {
		def = defaults[0]
	}
	return def
}

func NilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// GetLastDaysRange returns [now-days, now].
func GetLastDaysRange(days int) (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.AddDate(0, 0, -days), now
}

// NormalizeToken folds case and surrounding space for mapping comparisons.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CeilToInt rounds up towards positive infinity. Replenishment quantities
// must never be rounded down: under-ordering stock is the one failure the
// workshop cannot recover from before the next lead time.
func CeilToInt(d decimal.Decimal) int {
	return int(d.Ceil().IntPart())
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	result := make([]T, 0, len(slice))
	for _, item := range slice {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}
