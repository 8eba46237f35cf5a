package filter

import (
	"strings"

	"github.com/sells-group/lead-qualifier/internal/canon"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// NewSuppression builds a suppression record for a company name. Names that
// normalize to an empty key are rejected.
func NewSuppression(name, reason, createdBy string) (model.SuppressionRecord, error) {
	name = strings.TrimSpace(name)
	key := canon.Key(name)
	if key == "" {
		return model.SuppressionRecord{}, resilience.NewValidationError("name", "%q has no canonical key", name)
	}
	if createdBy == "" {
		createdBy = "system"
	}
	return model.SuppressionRecord{
		Key:       key,
		Name:      name,
		Reason:    strings.TrimSpace(reason),
		CreatedBy: createdBy,
	}, nil
}
