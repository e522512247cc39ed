package sms

import (
	"context"
	"errors"
	"reflect"

	"github.com/rs/zerolog"

	common "github.com/example/notification-dispatch/internal/adapters/common"
	"github.com/example/notification-dispatch/internal/models"
	smsprovider "github.com/example/notification-dispatch/internal/providers/sms"
	"github.com/example/notification-dispatch/internal/settings"
	"github.com/example/notification-dispatch/internal/util"
)

const keyUnitCost = "sms.unit_cost"

// defaultUnitCost is the approximate per-message cost recorded on successful
// sends when the gateway does not report one.
const defaultUnitCost = 0.8

// Adapter implements common.Adapter for the SMS channel.
type Adapter struct {
	logger   zerolog.Logger
	provider smsprovider.Provider
	settings settings.Resolver
}

// NewAdapter constructs an SMS adapter using the supplied provider.
func NewAdapter(provider smsprovider.Provider, resolver settings.Resolver, logger zerolog.Logger) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("sms adapter: provider dependency is required")
	}
	if resolver == nil {
		return nil, errors.New("sms adapter: settings resolver is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &Adapter{
		logger:   logger,
		provider: provider,
		settings: resolver,
	}, nil
}

// Channel reports the channel this adapter serves.
func (a *Adapter) Channel() models.Channel { return models.ChannelSMS }

// CheckConfig reports missing gateway credentials before any side effect.
func (a *Adapter) CheckConfig() error {
	if err := a.provider.CheckConfig(); err != nil {
		return common.WrapConfigMissing(err)
	}
	return nil
}

// Send submits the request body to one recipient via the gateway. A gateway
// code of zero yields a normalized outcome carrying the provider message id
// and the approximate unit cost; anything else is a provider failure carrying
// the raw gateway message.
func (a *Adapter) Send(ctx context.Context, recipient string, req *models.SendRequest) (*common.Outcome, error) {
	if req == nil {
		return nil, common.WrapProvider(errors.New("sms adapter: request is nil"))
	}

	phone, err := util.NormalizePhone(recipient)
	if err != nil {
		return nil, common.WrapProvider(err)
	}

	payload := &smsprovider.Payload{
		To:   phone,
		Body: req.Body,
	}

	rawResp, err := a.provider.Send(ctx, payload)
	if err != nil {
		a.logger.Warn().
			Str("channel", models.ChannelSMS.String()).
			Str("recipient", phone).
			Err(err).
			Msg("sms adapter send failed")
		if errors.Is(err, smsprovider.ErrMissingConfig) {
			return nil, common.WrapConfigMissing(err)
		}
		return nil, common.WrapProvider(err)
	}

	outcome := &common.Outcome{
		Cost: settings.Float(a.settings, keyUnitCost, defaultUnitCost),
	}
	if rawResp != nil {
		outcome.ProviderID = rawResp.ID
		outcome.Raw = common.TruncateRaw(rawResp.Body, common.DefaultRawBodyLimit)
	}

	a.logger.Debug().
		Str("channel", models.ChannelSMS.String()).
		Str("recipient", phone).
		Str("provider_id", outcome.ProviderID).
		Msg("sms adapter send succeeded")

	return outcome, nil
}
