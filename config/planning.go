package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// PlanningParams drive purchasing decisions directly, so every term of the
// replenishment formula is a named, env-visible parameter rather than a
// constant buried in the calculator.
type PlanningParams struct {
	// LeadTimeDays is the number of days between placing a purchase order
	// and stock arrival.
	LeadTimeDays int `validate:"gt=0"`
	// ScrapPct is the fraction of used material expected to be wasted,
	// inflating the reorder quantity (0.05 = 5%).
	ScrapPct float64 `validate:"gte=0,lt=1"`
	// TargetCoverDays is the days-of-usage horizon used to classify stock
	// health in reports. It does not inflate the order quantity.
	TargetCoverDays int `validate:"gt=0"`
	// UsageWindowDays is the trailing window for the average daily usage.
	UsageWindowDays int `validate:"gt=0"`
	// DefaultDailyUsage is used when a SKU has no outbound history inside
	// the usage window.
	DefaultDailyUsage float64 `validate:"gte=0"`

	MinStockDefault int `validate:"gte=0"`
	ParStockDefault int `validate:"gte=0"`

	// ActionableStatusIDs / ActionableStatusNames define which order status
	// transitions consume stock. Everything else is acknowledged and ignored.
	ActionableStatusIDs   []int
	ActionableStatusNames []string

	// TrackedKeywords identify order lines that belong to the tracked goods
	// domain; lines matching none of them are skipped without creating
	// unmapped noise.
	TrackedKeywords []string
}

var (
	planning     *PlanningParams
	planningOnce sync.Once
)

// GetPlanningParams loads, validates and caches the planning configuration.
// Invalid values panic at startup: silently mis-ordering stock is worse
// than refusing to start.
func GetPlanningParams() *PlanningParams {
	planningOnce.Do(func() {
		godotenv.Load()
		p := &PlanningParams{
			LeadTimeDays:          intFromEnv("LEAD_TIME_DAYS", 14),
			ScrapPct:              floatFromEnv("SCRAP_PCT", 0.05),
			TargetCoverDays:       intFromEnv("TARGET_COVER_DAYS", 14),
			UsageWindowDays:       intFromEnv("USAGE_WINDOW_DAYS", 30),
			DefaultDailyUsage:     floatFromEnv("DEFAULT_DAILY_USAGE", 0),
			MinStockDefault:       intFromEnv("MIN_STOCK_DEFAULT", 100),
			ParStockDefault:       intFromEnv("PAR_STOCK_DEFAULT", 300),
			ActionableStatusIDs:   intListFromEnv("ACTIONABLE_STATUS_IDS", []int{1, 2, 3}),
			ActionableStatusNames: stringListFromEnv("ACTIONABLE_STATUS_NAMES", []string{"new", "created", "pending", "active", "новый"}),
			TrackedKeywords:       stringListFromEnv("TRACKED_PRODUCT_KEYWORDS", []string{"адресник", "жетон", "медальон"}),
		}
		if err := validator.New().Struct(p); err != nil {
			panic(fmt.Sprintf("invalid planning params: %v", err))
		}
		planning = p
	})
	return planning
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func intListFromEnv(key string, def []int) []int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func stringListFromEnv(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
