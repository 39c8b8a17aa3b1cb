package feed

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/luxzg/discoverctl/internal/api"
	"github.com/luxzg/discoverctl/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SuppressRequest asks the backend to down-rank items matching Pattern.
type SuppressRequest struct {
	ItemID  int64        `validate:"required"`
	Kind    model.Action `validate:"oneof=suppress-item suppress-domain"`
	Pattern string       `validate:"required"`
	Penalty float64      `validate:"gt=0"`
}

// NewSuppressRequest prefills the pattern from the item title, or its
// source domain for suppress-domain, and the penalty from defaultPenalty.
func NewSuppressRequest(item model.Item, kind model.Action, defaultPenalty float64) SuppressRequest {
	pattern := item.Title
	if kind == model.ActionSuppressDomain {
		pattern = item.SourceDomain
	}
	return SuppressRequest{
		ItemID:  item.ID,
		Kind:    kind,
		Pattern: strings.TrimSpace(pattern),
		Penalty: defaultPenalty,
	}
}

// Validate rejects an empty pattern or a non-positive penalty.
func (r SuppressRequest) Validate() error {
	r.Pattern = strings.TrimSpace(r.Pattern)
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Pattern":
			return api.Validation("pattern must not be empty")
		case "Penalty":
			return api.Validation("penalty must be positive")
		case "Kind":
			return api.Validation("unsupported suppress kind " + string(r.Kind))
		case "ItemID":
			return api.Validation("item id is required")
		}
	}
	return api.Validation(err.Error())
}
