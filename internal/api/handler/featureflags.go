package handler

import (
	"context"
	"net/http"

	"github.com/clrevo/clrevo/internal/api/models"
	"github.com/clrevo/clrevo/internal/api/response"
	"github.com/clrevo/clrevo/internal/featureflags"
)

// FlagLister lists the current flag values.
type FlagLister interface {
	List(ctx context.Context) featureflags.FlagList
}

// FeatureFlagsHandler serves the flags read-only. Flags are changed in the
// repository; the API picks them up on its next reload.
type FeatureFlagsHandler struct {
	flags FlagLister
}

func NewFeatureFlagsHandler(flags FlagLister) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{flags: flags}
}

// ListFeatureFlags handles GET /v1/ops/flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	current := h.flags.List(r.Context())

	out := models.FeatureFlagList{Items: make([]models.FeatureFlag, 0, len(current.Items))}
	for _, f := range current.Items {
		item := models.FeatureFlag{
			Key:       f.Key,
			Value:     f.Value,
			UpdatedAt: models.NewTimestamp(f.UpdatedAt),
		}
		if d, ok := featureflags.Lookup(f.Key); ok {
			item.Kind = string(d.Kind)
			item.Default = d.Default
			item.Description = d.Description
		}
		out.Items = append(out.Items, item)
	}
	response.JSON(w, r, http.StatusOK, out)
}
