package auth

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/stardag-dev/stardag-registry/pkg/logger"
)

// KeyRefresher periodically re-fetches the OIDC issuer's JWKS document so
// OIDCValidator.Validate always has the current signing keys cached,
// including across a key rollover at the identity provider. Fits the
// system.Service lifecycle: Start does one synchronous Refresh before
// returning (so the first request after boot isn't rejected for an
// empty key set), then schedules the recurring refresh on a cron.Cron.
type KeyRefresher struct {
	validator *OIDCValidator
	schedule  string
	cron      *cron.Cron
	log       *logger.Logger
}

// NewKeyRefresher builds a refresher for validator on the given cron
// schedule (standard 5-field syntax, e.g. "*/15 * * * *").
func NewKeyRefresher(validator *OIDCValidator, schedule string, log *logger.Logger) *KeyRefresher {
	if log == nil {
		log = logger.NewDefault("oidc-key-refresher")
	}
	if schedule == "" {
		schedule = "*/15 * * * *"
	}
	return &KeyRefresher{validator: validator, schedule: schedule, log: log}
}

func (r *KeyRefresher) Name() string { return "oidc-key-refresher" }

func (r *KeyRefresher) Start(ctx context.Context) error {
	if err := r.validator.Refresh(ctx); err != nil {
		r.log.Warnf("initial jwks refresh failed, auth will reject tokens until the next refresh: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.validator.Refresh(context.Background()); err != nil {
			r.log.Warnf("jwks refresh failed: %v", err)
		}
	}); err != nil {
		return err
	}
	r.cron = c
	r.cron.Start()
	return nil
}

func (r *KeyRefresher) Stop(ctx context.Context) error {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	return nil
}
