// Package risk scores an action's risk level from static, table-driven rules.
// Scoring weights and thresholds come from configuration so deployments can
// tune them to their own compliance requirements.
package risk

import (
	"strings"
	"time"

	"custos/internal/trail/models"
)

// Weights are the additive contributions of each rule.
type Weights struct {
	HighRiskAction int // action in the configured high-risk set
	AdminMarker    int // action contains the administrative marker
	DataMutation   int // data_change category with a mutating operation
	OutsideHours   int // timestamp outside the business hours window
}

// Thresholds map a total score to a risk level: score >= Critical is
// critical, >= High is high, >= Medium is medium, else low.
type Thresholds struct {
	Critical int
	High     int
	Medium   int
}

// Config drives the classifier. Zero values fall back to Defaults.
type Config struct {
	HighRiskActions []string
	AdminMarker     string
	// Business hours window, local hours [Start, End).
	BusinessHoursStart int
	BusinessHoursEnd   int
	Weights            Weights
	Thresholds         Thresholds
	// Floor is the minimum level ever returned. Empty means no floor.
	Floor models.RiskLevel
}

// Defaults returns the shipped sample policy. Real deployments must supply
// their own high-risk set and thresholds.
func Defaults() Config {
	return Config{
		HighRiskActions: []string{
			"login", "logout", "password_change", "role_change",
			"export", "delete", "admin_action",
		},
		AdminMarker:        "admin",
		BusinessHoursStart: 6,
		BusinessHoursEnd:   22,
		Weights:            Weights{HighRiskAction: 3, AdminMarker: 2, DataMutation: 1, OutsideHours: 1},
		Thresholds:         Thresholds{Critical: 4, High: 3, Medium: 2},
	}
}

// mutatingOps qualify a data_change entry for the mutation weight.
var mutatingOps = []string{"create", "update", "delete", "export"}

// Classifier evaluates the additive scoring rules. Stateless and safe for
// concurrent use.
type Classifier struct {
	cfg      Config
	highRisk map[string]struct{}
}

// New builds a classifier from cfg, filling unset weights and thresholds
// from Defaults.
func New(cfg Config) *Classifier {
	def := Defaults()
	if len(cfg.HighRiskActions) == 0 {
		cfg.HighRiskActions = def.HighRiskActions
	}
	if cfg.AdminMarker == "" {
		cfg.AdminMarker = def.AdminMarker
	}
	if cfg.BusinessHoursStart == 0 && cfg.BusinessHoursEnd == 0 {
		cfg.BusinessHoursStart = def.BusinessHoursStart
		cfg.BusinessHoursEnd = def.BusinessHoursEnd
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}

	set := make(map[string]struct{}, len(cfg.HighRiskActions))
	for _, a := range cfg.HighRiskActions {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &Classifier{cfg: cfg, highRisk: set}
}

// Classify scores the action and maps the total through the thresholds.
func (c *Classifier) Classify(action string, category models.Category, ts time.Time) models.RiskLevel {
	score := c.Score(action, category, ts)

	var level models.RiskLevel
	switch {
	case score >= c.cfg.Thresholds.Critical:
		level = models.RiskCritical
	case score >= c.cfg.Thresholds.High:
		level = models.RiskHigh
	case score >= c.cfg.Thresholds.Medium:
		level = models.RiskMedium
	default:
		level = models.RiskLow
	}
	if c.cfg.Floor.IsValid() && c.cfg.Floor.Rank() > level.Rank() {
		level = c.cfg.Floor
	}
	return level
}

// Score returns the raw additive score for diagnostics and tests.
func (c *Classifier) Score(action string, category models.Category, ts time.Time) int {
	lowered := strings.ToLower(action)
	score := 0

	if _, ok := c.highRisk[lowered]; ok {
		score += c.cfg.Weights.HighRiskAction
	}
	if strings.Contains(lowered, c.cfg.AdminMarker) {
		score += c.cfg.Weights.AdminMarker
	}
	if category == models.CategoryDataChange && isMutating(lowered) {
		score += c.cfg.Weights.DataMutation
	}
	if c.outsideBusinessHours(ts) {
		score += c.cfg.Weights.OutsideHours
	}
	return score
}

func isMutating(action string) bool {
	for _, op := range mutatingOps {
		if strings.Contains(action, op) {
			return true
		}
	}
	return false
}

func (c *Classifier) outsideBusinessHours(ts time.Time) bool {
	h := ts.Hour()
	return h < c.cfg.BusinessHoursStart || h >= c.cfg.BusinessHoursEnd
}
