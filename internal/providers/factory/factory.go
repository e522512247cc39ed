package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	emailprovider "github.com/example/notification-dispatch/internal/providers/email"
	smsprovider "github.com/example/notification-dispatch/internal/providers/sms"
	"github.com/example/notification-dispatch/internal/settings"
)

// Email constructs the email provider, supporting SMTP and mock backends.
func Email(resolver settings.Resolver, mock bool, logger zerolog.Logger) (emailprovider.Provider, error) {
	if mock {
		logger.Info().
			Str("backend", "mock").
			Msg("email provider initialised")
		return emailprovider.NewMockProvider(logger), nil
	}

	provider, err := emailprovider.NewSMTPProvider(resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: smtp provider init: %w", err)
	}
	logger.Info().
		Str("backend", "smtp").
		Msg("email provider initialised")
	return provider, nil
}

// SMS constructs the SMS provider, supporting HTTP gateway and mock backends.
func SMS(resolver settings.Resolver, mock bool, logger zerolog.Logger) (smsprovider.Provider, error) {
	if mock {
		logger.Info().
			Str("backend", "mock").
			Msg("sms provider initialised")
		return smsprovider.NewMockProvider(logger), nil
	}

	provider, err := smsprovider.NewGatewayProvider(resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: gateway provider init: %w", err)
	}
	logger.Info().
		Str("backend", "gateway").
		Msg("sms provider initialised")
	return provider, nil
}
