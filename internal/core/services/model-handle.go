package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"langsam-server/internal/core/domain"
	output "langsam-server/internal/core/ports/output"
)

// HandlePolicy controls which variants a ModelHandle may load.
type HandlePolicy struct {
	DefaultVariant  string
	AllowSwitch     bool
	AllowedVariants []string      // empty allows any variant
	BuildTimeout    time.Duration // 0 means no timeout
}

// ModelHandle owns the segmentation model and the variant it is currently
// built for. Predictions for the loaded variant share a read lock; switching
// variants takes the write lock and keeps it for the prediction that asked
// for the switch, so no prediction ever observes a half-built model.
type ModelHandle struct {
	model  output.Segmenter
	policy HandlePolicy

	mu      sync.RWMutex
	variant string
	healthy bool
}

func NewModelHandle(model output.Segmenter, policy HandlePolicy) *ModelHandle {
	if policy.DefaultVariant == "" {
		policy.DefaultVariant = domain.DefaultVariant
	}
	return &ModelHandle{
		model:  model,
		policy: policy,
	}
}

// Init builds the default variant. It must succeed before serving.
func (h *ModelHandle) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	variant := h.policy.DefaultVariant
	if err := h.build(ctx, variant); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrModelBuild, variant, err)
	}

	h.variant = variant
	h.healthy = true
	log.WithField("sam_type", variant).Info("LangSAM model initialized")
	return nil
}

// Variant returns the most recently built variant.
func (h *ModelHandle) Variant() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.variant
}

func (h *ModelHandle) Status() domain.ModelStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return domain.ModelStatus{
		Variant:         h.variant,
		Healthy:         h.healthy,
		AllowSwitch:     h.policy.AllowSwitch,
		AllowedVariants: slices.Clone(h.policy.AllowedVariants),
	}
}

// Health reports an error when the last rebuild left the model in an
// unknown state or the runtime does not answer.
func (h *ModelHandle) Health(ctx context.Context) error {
	if !h.Status().Healthy {
		return fmt.Errorf("%w: last rebuild failed", domain.ErrModelUnavailable)
	}
	return h.model.Health(ctx)
}

// Run calls fn with the model built for variant. An empty variant keeps
// whatever is loaded.
func (h *ModelHandle) Run(ctx context.Context, variant string, fn func(ctx context.Context, model output.Segmenter) error) error {
	if variant != "" && len(h.policy.AllowedVariants) > 0 && !slices.Contains(h.policy.AllowedVariants, variant) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownVariant, variant)
	}

	h.mu.RLock()
	if h.healthy && (variant == "" || variant == h.variant) {
		defer h.mu.RUnlock()
		return fn(ctx, h.model)
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	target := variant
	if target == "" {
		target = h.variant
	}
	if target == "" {
		target = h.policy.DefaultVariant
	}

	if target != h.variant && h.variant != "" && !h.policy.AllowSwitch {
		return fmt.Errorf("%w: loaded %q, requested %q", domain.ErrVariantSwitchDisabled, h.variant, target)
	}

	// Another request may have finished the same switch while we waited.
	if !h.healthy || target != h.variant {
		if err := h.switchTo(ctx, target); err != nil {
			return err
		}
	}

	return fn(ctx, h.model)
}

// switchTo rebuilds for target. On failure the previous variant is rebuilt so
// the recorded variant always matches what the runtime has loaded. Callers
// hold the write lock.
func (h *ModelHandle) switchTo(ctx context.Context, target string) error {
	previous, wasHealthy := h.variant, h.healthy

	log.WithFields(log.Fields{
		"from": previous,
		"to":   target,
	}).Info("updating SAM model type")

	err := h.build(ctx, target)
	if err == nil {
		h.variant = target
		h.healthy = true
		return nil
	}

	buildErr := fmt.Errorf("%w: %s: %w", domain.ErrModelBuild, target, err)
	log.WithError(err).WithField("sam_type", target).Error("model rebuild failed")

	if !wasHealthy || previous == "" || previous == target {
		h.healthy = false
		return buildErr
	}

	if rerr := h.build(ctx, previous); rerr != nil {
		h.healthy = false
		log.WithError(rerr).WithField("sam_type", previous).Error("restoring previous model type failed")
		return buildErr
	}

	log.WithField("sam_type", previous).Warn("restored previous model type")
	return buildErr
}

// build runs detached from the request so a disconnecting client cannot
// abort a rebuild halfway.
func (h *ModelHandle) build(ctx context.Context, variant string) error {
	ctx = context.WithoutCancel(ctx)
	if h.policy.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.policy.BuildTimeout)
		defer cancel()
	}
	return h.model.Build(ctx, variant)
}
