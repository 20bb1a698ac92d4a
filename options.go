package polestar

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Option adjusts client construction.
type Option func(*options)

type options struct {
	httpClient      *http.Client
	privateEndpoint string
	publicEndpoint  string
	providerBaseURL string
	logger          zerolog.Logger
}

func defaultOptions() options {
	return options{
		privateEndpoint: apiEndpointPrivate,
		publicEndpoint:  apiEndpointPublic,
		logger:          zerolog.Nop(),
	}
}

// WithHTTPClient substitutes the shared HTTP client. The client should
// carry a cookie jar; the login flow depends on provider session cookies.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithEndpoints overrides the private and public GraphQL API endpoints.
func WithEndpoints(private, public string) Option {
	return func(o *options) {
		o.privateEndpoint = private
		o.publicEndpoint = public
	}
}

// WithProviderBaseURL overrides the identity provider base URL.
func WithProviderBaseURL(baseURL string) Option {
	return func(o *options) {
		o.providerBaseURL = baseURL
	}
}

// WithLogger substitutes the logger used by the client and its components.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// UpdateOption adjusts which categories UpdateLatestData refreshes.
type UpdateOption func(*updateSettings)

type updateSettings struct {
	vehicle    bool
	telematics bool
}

func defaultUpdateSettings() updateSettings {
	return updateSettings{telematics: true}
}

// WithVehicleData also refreshes the vehicle inventory payload.
func WithVehicleData() UpdateOption {
	return func(s *updateSettings) {
		s.vehicle = true
	}
}

// WithoutTelematics skips the telematics refresh, which is otherwise
// performed on every update.
func WithoutTelematics() UpdateOption {
	return func(s *updateSettings) {
		s.telematics = false
	}
}
