// Package polestar is a client for the Polestar owner API. It signs in
// with a Polestar ID account, discovers the account's vehicles and keeps a
// per-VIN cache of inventory, telematics and imagery data refreshed on
// demand.
package polestar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopolestar/gopolestar/auth"
	"github.com/gopolestar/gopolestar/gql"
)

const (
	apiEndpointPrivate = "https://pc-api.polestar.com/eu-north-1/mystar-v2/"
	apiEndpointPublic  = "https://pc-api.polestar.com/eu-north-1/public/"

	// API key required by the public endpoint, shared by all clients of the
	// official web app.
	defaultPublicAPIKey = "da2-pc3oqzbxdnfudg2gzpyeqhovn4"

	requestTimeout = 30 * time.Second
)

// Config carries the account credentials and optional vehicle selection.
type Config struct {
	Username string
	Password string

	// VINs restricts the client to a subset of the account's vehicles.
	// Empty means every vehicle on the account.
	VINs []string

	// UniqueID tags log lines from this instance, for callers running one
	// client per account.
	UniqueID string

	// PublicAPIKey overrides the built-in key for the public endpoint.
	PublicAPIKey string
}

// TokenSource produces access tokens for API calls. Implemented by
// auth.Auth.
type TokenSource interface {
	Initialize(ctx context.Context) error
	EnsureToken(ctx context.Context, force bool) error
	AccessToken() string
	Logout()
}

// Executor runs a GraphQL document against an endpoint. Implemented by
// gql.Client.
type Executor interface {
	Query(ctx context.Context, document, operationName string, variables map[string]any, headers http.Header) (map[string]json.RawMessage, error)
}

// API is the vehicle data client. All methods are safe for concurrent use.
type API struct {
	cfg     Config
	auth    TokenSource
	private Executor
	public  Executor
	status  *gql.StatusRecorder
	logger  zerolog.Logger

	mu        sync.Mutex
	dataByVIN map[string]map[string]json.RawMessage
	available map[string]struct{}
	updating  map[string]*sync.Mutex
}

// New builds a client for the given account. Call Initialize before using
// any of the data accessors.
func New(cfg Config, opts ...Option) (*API, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("polestar: username and password are required")
	}

	settings := defaultOptions()
	for _, opt := range opts {
		opt(&settings)
	}

	httpClient := settings.httpClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("polestar: create cookie jar: %w", err)
		}
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		}
	}

	logCtx := settings.logger.With().Str("component", "polestar")
	if cfg.UniqueID != "" {
		logCtx = logCtx.Str("id", cfg.UniqueID)
	}
	logger := logCtx.Logger()

	authClient := auth.New(auth.Config{
		Username:        cfg.Username,
		Password:        cfg.Password,
		ProviderBaseURL: settings.providerBaseURL,
	}, httpClient, logger)

	status := &gql.StatusRecorder{}

	api := newAPI(cfg, logger, authClient,
		gql.NewClient(settings.privateEndpoint, httpClient, status, logger),
		gql.NewClient(settings.publicEndpoint, httpClient, status, logger),
		status,
	)
	return api, nil
}

// newAPI wires a client from pre-built collaborators.
func newAPI(cfg Config, logger zerolog.Logger, tokens TokenSource, private, public Executor, status *gql.StatusRecorder) *API {
	return &API{
		cfg:       cfg,
		auth:      tokens,
		private:   private,
		public:    public,
		status:    status,
		logger:    logger,
		dataByVIN: make(map[string]map[string]json.RawMessage),
		available: make(map[string]struct{}),
		updating:  make(map[string]*sync.Mutex),
	}
}

// Initialize signs in and loads the initial inventory and imagery for every
// selected vehicle. Verbose requests the extended inventory document.
func (a *API) Initialize(ctx context.Context, verbose bool) error {
	if err := a.auth.Initialize(ctx); err != nil {
		return err
	}
	if err := a.auth.EnsureToken(ctx, false); err != nil {
		return err
	}
	if a.auth.AccessToken() == "" {
		return &auth.Error{Message: "no access token after sign-in"}
	}

	vehicles, err := a.fetchAllVehicles(ctx, verbose)
	if err != nil {
		return err
	}
	if len(vehicles) == 0 {
		return &NoDataError{Message: "no vehicles returned for account"}
	}

	selected := make(map[string]struct{}, len(a.cfg.VINs))
	for _, vin := range a.cfg.VINs {
		selected[vin] = struct{}{}
	}

	a.mu.Lock()
	for vin, info := range vehicles {
		if len(selected) > 0 {
			if _, ok := selected[vin]; !ok {
				continue
			}
		}
		a.available[vin] = struct{}{}
		a.store(vin, gql.KeyCarInfo, info)
	}
	a.mu.Unlock()

	for vin := range selected {
		if _, ok := vehicles[vin]; !ok {
			a.logger.Warn().Str("vin", vin).Msg("configured VIN not present on account")
		}
	}

	for _, vin := range a.AvailableVINs() {
		if err := a.fetchCarImages(ctx, vin); err != nil {
			// Imagery is decorative. A failure here must not block sign-in.
			a.logger.Warn().Err(err).Str("vin", vin).Msg("car image fetch failed")
		}
	}

	return nil
}

// AvailableVINs lists the vehicles the client tracks, sorted.
func (a *API) AvailableVINs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	vins := make([]string, 0, len(a.available))
	for vin := range a.available {
		vins = append(vins, vin)
	}
	sort.Strings(vins)
	return vins
}

// CarInformation returns the cached inventory record for a vehicle, or
// (nil, nil) when no inventory data has been loaded yet.
func (a *API) CarInformation(vin string) (*CarInformation, error) {
	raw, err := a.cached(vin, gql.KeyCarInfo)
	if err != nil || raw == nil {
		return nil, err
	}
	info, err := ParseCarInformation(raw)
	if err != nil {
		return nil, &ConversionError{Category: gql.KeyCarInfo, Err: err}
	}
	return info, nil
}

// CarTelematics returns the cached live state for a vehicle, or (nil, nil)
// when no telematics data has been loaded yet.
func (a *API) CarTelematics(vin string) (*CarTelematics, error) {
	raw, err := a.cached(vin, gql.KeyTelematics)
	if err != nil || raw == nil {
		return nil, err
	}
	telematics, err := ParseCarTelematics(raw, vin)
	if err != nil {
		return nil, &ConversionError{Category: gql.KeyTelematics, Err: err}
	}
	return telematics, nil
}

// CarBattery returns the battery slice of the cached telematics, or
// (nil, nil) when no telematics data has been loaded yet.
func (a *API) CarBattery(vin string) (*CarBattery, error) {
	telematics, err := a.CarTelematics(vin)
	if err != nil || telematics == nil {
		return nil, err
	}
	return telematics.Battery, nil
}

// CarOdometer returns the odometer slice of the cached telematics, or
// (nil, nil) when no telematics data has been loaded yet.
func (a *API) CarOdometer(vin string) (*CarOdometer, error) {
	telematics, err := a.CarTelematics(vin)
	if err != nil || telematics == nil {
		return nil, err
	}
	return telematics.Odometer, nil
}

// CarImages returns the cached imagery for a vehicle, or (nil, nil) when no
// imagery has been loaded.
func (a *API) CarImages(vin string) (*CarImages, error) {
	raw, err := a.cached(vin, gql.KeyCarImages)
	if err != nil || raw == nil {
		return nil, err
	}
	images, err := ParseCarImages(raw)
	if err != nil {
		return nil, &ConversionError{Category: gql.KeyCarImages, Err: err}
	}
	return images, nil
}

// RawData returns a copy of everything cached for a vehicle, keyed by the
// API's top-level field names.
func (a *API) RawData(vin string) (map[string]json.RawMessage, error) {
	if err := a.ensureVIN(vin); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]json.RawMessage, len(a.dataByVIN[vin]))
	for key, raw := range a.dataByVIN[vin] {
		out[key] = raw
	}
	return out, nil
}

// UpdateLatestData refreshes the cached data for one vehicle. Concurrent
// calls for the same VIN collapse into one: if a refresh is already running
// the call returns immediately and the caller reads whatever the running
// refresh leaves behind. Defaults to refreshing telematics only.
func (a *API) UpdateLatestData(ctx context.Context, vin string, opts ...UpdateOption) error {
	if err := a.ensureVIN(vin); err != nil {
		return err
	}

	settings := defaultUpdateSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	lock := a.updateLock(vin)
	if !lock.TryLock() {
		a.logger.Debug().Str("vin", vin).Msg("update already in progress, skipping")
		return nil
	}
	defer lock.Unlock()

	if err := a.auth.EnsureToken(ctx, false); err != nil {
		return err
	}

	if settings.vehicle {
		if err := a.updateVehicleData(ctx, vin); err != nil {
			a.status.Set(http.StatusInternalServerError)
			return err
		}
	}
	if settings.telematics {
		if err := a.updateTelematicsData(ctx, vin); err != nil {
			a.status.Set(http.StatusInternalServerError)
			return err
		}
	}
	return nil
}

// Logout discards the session. The vehicle data cache survives so cached
// accessors keep working; only new fetches require another Initialize.
func (a *API) Logout() {
	a.auth.Logout()
}

// StatusCode reports the HTTP-style status of the most recent API call.
func (a *API) StatusCode() int {
	return a.status.Code()
}

func (a *API) ensureVIN(vin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.available[vin]; !ok {
		return &VinNotFoundError{VIN: vin}
	}
	return nil
}

// cached reads one category for a VIN. Missing data is (nil, nil); an
// unknown VIN is an error.
func (a *API) cached(vin, key string) (json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.available[vin]; !ok {
		return nil, &VinNotFoundError{VIN: vin}
	}
	return a.dataByVIN[vin][key], nil
}

// store records one category for a VIN. Caller holds a.mu.
func (a *API) store(vin, key string, raw json.RawMessage) {
	if a.dataByVIN[vin] == nil {
		a.dataByVIN[vin] = make(map[string]json.RawMessage)
	}
	a.dataByVIN[vin][key] = raw
}

// updateLock returns the per-VIN refresh mutex, creating it on first use.
func (a *API) updateLock(vin string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.updating[vin]
	if !ok {
		lock = &sync.Mutex{}
		a.updating[vin] = lock
	}
	return lock
}

func (a *API) authHeaders() http.Header {
	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+a.auth.AccessToken())
	return headers
}

// fetchAllVehicles retrieves the account inventory, keyed by VIN.
func (a *API) fetchAllVehicles(ctx context.Context, verbose bool) (map[string]json.RawMessage, error) {
	document := gql.QueryConsumerCars
	if verbose {
		document = gql.QueryConsumerCarsVerbose
	}

	data, err := a.private.Query(ctx, document, gql.OpConsumerCars, nil, a.authHeaders())
	if err != nil {
		return nil, err
	}

	var cars []json.RawMessage
	if err := json.Unmarshal(data[gql.KeyCarInfo], &cars); err != nil {
		return nil, &ConversionError{Category: gql.KeyCarInfo, Err: err}
	}

	vehicles := make(map[string]json.RawMessage, len(cars))
	for _, car := range cars {
		var head struct {
			VIN string `json:"vin"`
		}
		if err := json.Unmarshal(car, &head); err != nil || head.VIN == "" {
			continue
		}
		vehicles[head.VIN] = car
	}
	return vehicles, nil
}

// updateVehicleData refreshes the inventory record for one vehicle.
func (a *API) updateVehicleData(ctx context.Context, vin string) error {
	vehicles, err := a.fetchAllVehicles(ctx, false)
	if err != nil {
		return err
	}

	info, ok := vehicles[vin]
	if !ok {
		return &NoDataError{Message: "vehicle " + vin + " missing from inventory"}
	}

	a.mu.Lock()
	a.store(vin, gql.KeyCarInfo, info)
	a.mu.Unlock()
	return nil
}

// updateTelematicsData refreshes the live state for one vehicle.
func (a *API) updateTelematicsData(ctx context.Context, vin string) error {
	data, err := a.private.Query(ctx, gql.QueryTelematics, gql.OpTelematics,
		map[string]any{"vins": []string{vin}}, a.authHeaders())
	if err != nil {
		return err
	}

	raw, ok := data[gql.KeyTelematics]
	if !ok {
		return &NoDataError{Message: "no telematics data for " + vin}
	}

	a.mu.Lock()
	a.store(vin, gql.KeyTelematics, raw)
	a.mu.Unlock()
	return nil
}

// fetchCarImages retrieves the studio imagery for one vehicle from the
// public endpoint. Requires the verbose inventory fields; vehicles loaded
// with the compact document are skipped.
func (a *API) fetchCarImages(ctx context.Context, vin string) error {
	info, err := a.cached(vin, gql.KeyCarInfo)
	if err != nil || info == nil {
		return err
	}

	var head struct {
		PNO34         string `json:"pno34"`
		StructureWeek int    `json:"structureWeek"`
		ModelYear     string `json:"modelYear"`
	}
	if err := json.Unmarshal(info, &head); err != nil {
		return &ConversionError{Category: gql.KeyCarInfo, Err: err}
	}
	if head.PNO34 == "" {
		a.logger.Debug().Str("vin", vin).Msg("inventory lacks image parameters, skipping imagery")
		return nil
	}

	apiKey := a.cfg.PublicAPIKey
	if apiKey == "" {
		apiKey = defaultPublicAPIKey
	}
	headers := make(http.Header)
	headers.Set("x-api-key", apiKey)

	data, err := a.public.Query(ctx, gql.QueryCarImages, gql.OpCarImages, map[string]any{
		"pno34":         head.PNO34,
		"structureWeek": head.StructureWeek,
		"modelYear":     head.ModelYear,
	}, headers)
	if err != nil {
		return err
	}

	raw, ok := data[gql.KeyCarImages]
	if !ok {
		return &NoDataError{Message: "no image data for " + vin}
	}

	a.mu.Lock()
	a.store(vin, gql.KeyCarImages, raw)
	a.mu.Unlock()
	return nil
}
