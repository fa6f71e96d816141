package workflow

import (
	"strings"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
)

// Property names as the CRM sends them. Figured blanks carry their size
// under "Форма" instead of "Розмір".
const (
	propSize  = "Розмір"
	propShape = "Форма"
	propColor = "Колір"
)

// Resolution is a successful mapping of one order line.
type Resolution struct {
	Mapping *models.ProductMapping
	// Qty is the consumed blank quantity: ordered qty * qty_per_unit.
	Qty int
}

// LineFilter decides whether an order line belongs to the tracked goods
// domain at all. Lines it rejects are skipped silently: they are regular
// catalog items, not mapping gaps.
type LineFilter func(line OrderLine) bool

// KeywordLineFilter matches the product name against a configured keyword
// list (case-folded substring match).
func KeywordLineFilter(keywords []string) LineFilter {
	return func(line OrderLine) bool {
		name := utils.NormalizeToken(line.ProductName)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(name, kw) {
				return true
			}
		}
		return false
	}
}

func lineSize(line OrderLine) string {
	if v := strings.TrimSpace(line.Properties[propSize]); v != "" {
		return v
	}
	return strings.TrimSpace(line.Properties[propShape])
}

func lineColor(line OrderLine) string {
	return strings.TrimSpace(line.Properties[propColor])
}

// ResolveLine matches one order line against the active mapping rules and
// returns nil when no rule applies. Resolution is deterministic:
// highest priority wins, then the most specific rule (most constrained
// properties), then the most recently registered one.
func ResolveLine(mappings []*models.ProductMapping, line OrderLine) *Resolution {
	name := utils.NormalizeToken(line.ProductName)
	size := utils.NormalizeToken(lineSize(line))
	color := utils.NormalizeToken(lineColor(line))

	var best *models.ProductMapping
	for _, mapping := range mappings {
		if !utils.DereferencePtr(mapping.IsActive) {
			continue
		}
		if utils.NormalizeToken(mapping.ProductName) != name {
			continue
		}
		// empty rule property = wildcard
		if s := utils.NormalizeToken(mapping.SizeProperty); s != "" && s != size {
			continue
		}
		if c := utils.NormalizeToken(mapping.MetalColor); c != "" && c != color {
			continue
		}
		if best == nil || betterMatch(mapping, best) {
			best = mapping
		}
	}
	if best == nil {
		return nil
	}
	return &Resolution{
		Mapping: best,
		Qty:     line.Qty * best.QtyPerUnit,
	}
}

// betterMatch reports whether a beats b under the fixed tie-break chain:
// priority, specificity, registration recency (created_at, then id).
func betterMatch(a, b *models.ProductMapping) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
		return sa > sb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SuggestSku guesses a target SKU for an unmapped line to speed up operator
// triage: when every rule for the same product name points at one SKU, the
// line probably belongs there too (a new size/color variant).
func SuggestSku(mappings []*models.ProductMapping, line OrderLine) *string {
	name := utils.NormalizeToken(line.ProductName)
	var candidate string
	for _, mapping := range mappings {
		if !utils.DereferencePtr(mapping.IsActive) {
			continue
		}
		if utils.NormalizeToken(mapping.ProductName) != name {
			continue
		}
		if candidate == "" {
			candidate = mapping.BlankSku
		} else if candidate != mapping.BlankSku {
			return nil
		}
	}
	if candidate == "" {
		return nil
	}
	return &candidate
}
