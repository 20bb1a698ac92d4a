package polestar

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// ChargingStatus is the display form of the API's charging state.
type ChargingStatus string

const (
	ChargingStatusDone          ChargingStatus = "Done"
	ChargingStatusIdle          ChargingStatus = "Idle"
	ChargingStatusCharging      ChargingStatus = "Charging"
	ChargingStatusFault         ChargingStatus = "Fault"
	ChargingStatusUnspecified   ChargingStatus = "Unspecified"
	ChargingStatusScheduled     ChargingStatus = "Scheduled"
	ChargingStatusDischarging   ChargingStatus = "Discharging"
	ChargingStatusError         ChargingStatus = "Error"
	ChargingStatusSmartCharging ChargingStatus = "Smart Charging"
)

var chargingStatusNames = map[string]ChargingStatus{
	"CHARGING_STATUS_DONE":           ChargingStatusDone,
	"CHARGING_STATUS_IDLE":           ChargingStatusIdle,
	"CHARGING_STATUS_CHARGING":       ChargingStatusCharging,
	"CHARGING_STATUS_FAULT":          ChargingStatusFault,
	"CHARGING_STATUS_UNSPECIFIED":    ChargingStatusUnspecified,
	"CHARGING_STATUS_SCHEDULED":      ChargingStatusScheduled,
	"CHARGING_STATUS_DISCHARGING":    ChargingStatusDischarging,
	"CHARGING_STATUS_ERROR":          ChargingStatusError,
	"CHARGING_STATUS_SMART_CHARGING": ChargingStatusSmartCharging,
}

// BrakeFluidLevelWarning is the display form of the brake fluid warning.
type BrakeFluidLevelWarning string

const (
	BrakeFluidLevelWarningNone        BrakeFluidLevelWarning = "No Warning"
	BrakeFluidLevelWarningUnspecified BrakeFluidLevelWarning = "Unspecified"
	BrakeFluidLevelWarningTooLow      BrakeFluidLevelWarning = "Too Low"
)

var brakeFluidLevelWarningNames = map[string]BrakeFluidLevelWarning{
	"BRAKE_FLUID_LEVEL_WARNING_NO_WARNING":  BrakeFluidLevelWarningNone,
	"BRAKE_FLUID_LEVEL_WARNING_UNSPECIFIED": BrakeFluidLevelWarningUnspecified,
	"BRAKE_FLUID_LEVEL_WARNING_TOO_LOW":     BrakeFluidLevelWarningTooLow,
}

// EngineCoolantLevelWarning is the display form of the coolant warning.
type EngineCoolantLevelWarning string

const (
	EngineCoolantLevelWarningNone        EngineCoolantLevelWarning = "No Warning"
	EngineCoolantLevelWarningUnspecified EngineCoolantLevelWarning = "Unspecified"
	EngineCoolantLevelWarningTooLow      EngineCoolantLevelWarning = "Too Low"
)

var engineCoolantLevelWarningNames = map[string]EngineCoolantLevelWarning{
	"ENGINE_COOLANT_LEVEL_WARNING_NO_WARNING":  EngineCoolantLevelWarningNone,
	"ENGINE_COOLANT_LEVEL_WARNING_UNSPECIFIED": EngineCoolantLevelWarningUnspecified,
	"ENGINE_COOLANT_LEVEL_WARNING_TOO_LOW":     EngineCoolantLevelWarningTooLow,
}

// OilLevelWarning is the display form of the oil level warning.
type OilLevelWarning string

const (
	OilLevelWarningNone            OilLevelWarning = "No Warning"
	OilLevelWarningUnspecified     OilLevelWarning = "Unspecified"
	OilLevelWarningTooLow          OilLevelWarning = "Too Low"
	OilLevelWarningTooHigh         OilLevelWarning = "Too High"
	OilLevelWarningServiceRequired OilLevelWarning = "Service Required"
)

var oilLevelWarningNames = map[string]OilLevelWarning{
	"OIL_LEVEL_WARNING_NO_WARNING":       OilLevelWarningNone,
	"OIL_LEVEL_WARNING_UNSPECIFIED":      OilLevelWarningUnspecified,
	"OIL_LEVEL_WARNING_TOO_LOW":          OilLevelWarningTooLow,
	"OIL_LEVEL_WARNING_TOO_HIGH":         OilLevelWarningTooHigh,
	"OIL_LEVEL_WARNING_SERVICE_REQUIRED": OilLevelWarningServiceRequired,
}

// ServiceWarning is the display form of the service warning.
type ServiceWarning string

const (
	ServiceWarningNone                  ServiceWarning = "No Warning"
	ServiceWarningUnspecified           ServiceWarning = "Unspecified"
	ServiceWarningServiceRequired       ServiceWarning = "Service Required"
	ServiceWarningMaintenanceAlmostTime ServiceWarning = "Regular Maintenance Almost Time For Service"
	ServiceWarningDistanceAlmostTime    ServiceWarning = "Distance Driven Almost Time For Service"
	ServiceWarningMaintenanceTime       ServiceWarning = "Regular Maintenance Time For Service"
	ServiceWarningDistanceTime          ServiceWarning = "Distance Driven Time For Service"
	ServiceWarningMaintenanceOverdue    ServiceWarning = "Regular Maintenance Overdue For Service"
	ServiceWarningDistanceDrivenOverdue ServiceWarning = "Distance Driven Overdue For Service"
)

var serviceWarningNames = map[string]ServiceWarning{
	"SERVICE_WARNING_NO_WARNING":                                  ServiceWarningNone,
	"SERVICE_WARNING_UNSPECIFIED":                                 ServiceWarningUnspecified,
	"SERVICE_WARNING_SERVICE_REQUIRED":                            ServiceWarningServiceRequired,
	"SERVICE_WARNING_REGULAR_MAINTENANCE_ALMOST_TIME_FOR_SERVICE": ServiceWarningMaintenanceAlmostTime,
	"SERVICE_WARNING_DISTANCE_DRIVEN_ALMOST_TIME_FOR_SERVICE":     ServiceWarningDistanceAlmostTime,
	"SERVICE_WARNING_REGULAR_MAINTENANCE_TIME_FOR_SERVICE":        ServiceWarningMaintenanceTime,
	"SERVICE_WARNING_DISTANCE_DRIVEN_TIME_FOR_SERVICE":            ServiceWarningDistanceTime,
	"SERVICE_WARNING_REGULAR_MAINTENANCE_OVERDUE_FOR_SERVICE":     ServiceWarningMaintenanceOverdue,
	"SERVICE_WARNING_DISTANCE_DRIVEN_OVERDUE_FOR_SERVICE":         ServiceWarningDistanceDrivenOverdue,
}

// Specification string extraction patterns. Inputs are free-form display
// strings such as "78 kWh", "400V", "27 modules" or "660 Nm".
var (
	batteryCapacityPattern = regexp.MustCompile(`(?i)(\d+)(?:\.\d+)?\s*kwh`)
	batteryVoltagePattern  = regexp.MustCompile(`(?i)(\d+)\s*V`)
	batteryModulesPattern  = regexp.MustCompile(`(?i)(\d+)\s*modules?`)
	batteryCellsPattern    = regexp.MustCompile(`(?i)(\d+)\s*cells?`)
	torquePattern          = regexp.MustCompile(`(?i)(\d+)\s*(?:nm|n·m|n⋅m)`)

	// "Polestar 4" is reported as "Polestar4".
	modelNamePattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)
)

// BatterySpecification is the battery detail extracted from the inventory
// payload's free-form battery string. Absent components are nil.
type BatterySpecification struct {
	CapacityKWh *int
	Voltage     *int
	Modules     *int
	Cells       *int
}

func parseBatterySpecification(battery string) *BatterySpecification {
	return &BatterySpecification{
		CapacityKWh: matchInt(batteryCapacityPattern, battery),
		Voltage:     matchInt(batteryVoltagePattern, battery),
		Modules:     matchInt(batteryModulesPattern, battery),
		Cells:       matchInt(batteryCellsPattern, battery),
	}
}

func matchInt(pattern *regexp.Regexp, s string) *int {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// CarInformation is the typed form of a vehicle's inventory payload.
type CarInformation struct {
	VIN                       string
	InternalVehicleIdentifier string
	RegistrationNo            string
	RegistrationDate          *time.Time
	FactoryCompleteDate       *time.Time
	ModelName                 string
	Battery                   string
	Torque                    string
	SoftwareVersion           string
	SoftwareVersionTimestamp  *time.Time
	ReceivedAt                time.Time
}

// BatteryInformation extracts the battery detail from the specification
// string, or nil when no battery string is present.
func (c *CarInformation) BatteryInformation() *BatterySpecification {
	if c.Battery == "" {
		return nil
	}
	return parseBatterySpecification(c.Battery)
}

// TorqueNm extracts the numeric torque from the specification string.
func (c *CarInformation) TorqueNm() *int {
	if c.Torque == "" {
		return nil
	}
	return matchInt(torquePattern, c.Torque)
}

// ParseCarInformation converts a raw inventory payload into a typed record.
func ParseCarInformation(raw json.RawMessage) (*CarInformation, error) {
	var payload struct {
		VIN                       string `json:"vin"`
		InternalVehicleIdentifier string `json:"internalVehicleIdentifier"`
		RegistrationNo            string `json:"registrationNo"`
		RegistrationDate          string `json:"registrationDate"`
		FactoryCompleteDate       string `json:"factoryCompleteDate"`
		Content                   struct {
			Model struct {
				Name string `json:"name"`
			} `json:"model"`
			Specification struct {
				Battery string `json:"battery"`
				Torque  string `json:"torque"`
			} `json:"specification"`
		} `json:"content"`
		Software struct {
			Version          string `json:"version"`
			VersionTimestamp string `json:"versionTimestamp"`
		} `json:"software"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode car information: %w", err)
	}

	registrationDate, err := parseDate(payload.RegistrationDate)
	if err != nil {
		return nil, err
	}
	factoryCompleteDate, err := parseDate(payload.FactoryCompleteDate)
	if err != nil {
		return nil, err
	}
	versionTimestamp, err := parseDateTime(payload.Software.VersionTimestamp)
	if err != nil {
		return nil, err
	}

	modelName := payload.Content.Model.Name
	if m := modelNamePattern.FindStringSubmatch(modelName); m != nil {
		modelName = m[1] + " " + m[2]
	}

	return &CarInformation{
		VIN:                       payload.VIN,
		InternalVehicleIdentifier: payload.InternalVehicleIdentifier,
		RegistrationNo:            payload.RegistrationNo,
		RegistrationDate:          registrationDate,
		FactoryCompleteDate:       factoryCompleteDate,
		ModelName:                 modelName,
		Battery:                   payload.Content.Specification.Battery,
		Torque:                    payload.Content.Specification.Torque,
		SoftwareVersion:           payload.Software.Version,
		SoftwareVersionTimestamp:  versionTimestamp,
		ReceivedAt:                time.Now().UTC(),
	}, nil
}

// CarBattery is the battery slice of a telematics payload.
type CarBattery struct {
	BatteryChargeLevelPercentage       *int
	ChargingStatus                     ChargingStatus
	EstimatedChargingTimeToFullMinutes *int
	EstimatedDistanceToEmptyKm         *int
	EventUpdatedAt                     *time.Time
	ReceivedAt                         time.Time
}

// EstimatedFullChargeRangeKm extrapolates the range at 100% charge from the
// current charge level and range: (range / percentage) * 100.
func (b *CarBattery) EstimatedFullChargeRangeKm() *float64 {
	if b.BatteryChargeLevelPercentage == nil || b.EstimatedDistanceToEmptyKm == nil {
		return nil
	}
	pct, dist := *b.BatteryChargeLevelPercentage, *b.EstimatedDistanceToEmptyKm
	if pct <= 0 || pct > 100 || dist < 0 {
		return nil
	}
	full := math.Round(float64(dist)/float64(pct)*100*100) / 100
	return &full
}

// EstimatedFullyChargedAt estimates the charge completion time from the
// remaining minutes. Returns nil when not actively charging or already
// fully charged.
func (b *CarBattery) EstimatedFullyChargedAt() *time.Time {
	if b.EstimatedChargingTimeToFullMinutes == nil || *b.EstimatedChargingTimeToFullMinutes <= 0 {
		return nil
	}
	if b.BatteryChargeLevelPercentage == nil || *b.BatteryChargeLevelPercentage >= 100 {
		return nil
	}
	done := time.Now().UTC().Truncate(time.Minute).
		Add(time.Duration(*b.EstimatedChargingTimeToFullMinutes) * time.Minute)
	return &done
}

// CarOdometer is the odometer slice of a telematics payload.
type CarOdometer struct {
	OdometerMeters *int64
	EventUpdatedAt *time.Time
	ReceivedAt     time.Time
}

// CarHealth is the service/health slice of a telematics payload.
type CarHealth struct {
	BrakeFluidLevelWarning    BrakeFluidLevelWarning
	DaysToService             *int
	DistanceToServiceKm       *int
	EngineCoolantLevelWarning EngineCoolantLevelWarning
	OilLevelWarning           OilLevelWarning
	ServiceWarning            ServiceWarning
	EventUpdatedAt            *time.Time
	ReceivedAt                time.Time
}

// CarTelematics is the combined live state for one vehicle. Slices the API
// did not report for the VIN are nil.
type CarTelematics struct {
	Health     *CarHealth
	Battery    *CarBattery
	Odometer   *CarOdometer
	ReceivedAt time.Time
}

// eventTimestamp is the API's {seconds, nanos} timestamp encoding.
type eventTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int64 `json:"nanos"`
}

func (t *eventTimestamp) Time() *time.Time {
	if t == nil || t.Seconds == 0 {
		return nil
	}
	ts := time.Unix(t.Seconds, t.Nanos).UTC()
	return &ts
}

// ParseCarTelematics converts a raw telematics payload into a typed record,
// selecting the entries for the given VIN from each per-VIN slice. An empty
// VIN selects the first entry of each slice.
func ParseCarTelematics(raw json.RawMessage, vin string) (*CarTelematics, error) {
	var payload struct {
		Health   []json.RawMessage `json:"health"`
		Battery  []json.RawMessage `json:"battery"`
		Odometer []json.RawMessage `json:"odometer"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode telematics: %w", err)
	}

	telematics := &CarTelematics{ReceivedAt: time.Now().UTC()}

	if item := rawForVIN(payload.Health, vin); item != nil {
		health, err := parseCarHealth(item)
		if err != nil {
			return nil, err
		}
		telematics.Health = health
	}
	if item := rawForVIN(payload.Battery, vin); item != nil {
		battery, err := parseCarBattery(item)
		if err != nil {
			return nil, err
		}
		telematics.Battery = battery
	}
	if item := rawForVIN(payload.Odometer, vin); item != nil {
		odometer, err := parseCarOdometer(item)
		if err != nil {
			return nil, err
		}
		telematics.Odometer = odometer
	}

	return telematics, nil
}

// rawForVIN selects the entry of a per-VIN slice matching vin, or the first
// entry when vin is empty.
func rawForVIN(items []json.RawMessage, vin string) json.RawMessage {
	for _, item := range items {
		if vin == "" {
			return item
		}
		var head struct {
			VIN string `json:"vin"`
		}
		if err := json.Unmarshal(item, &head); err == nil && head.VIN == vin {
			return item
		}
	}
	return nil
}

func parseCarBattery(raw json.RawMessage) (*CarBattery, error) {
	var payload struct {
		BatteryChargeLevelPercentage       *int            `json:"batteryChargeLevelPercentage"`
		ChargingStatus                     string          `json:"chargingStatus"`
		EstimatedChargingTimeToFullMinutes *int            `json:"estimatedChargingTimeToFullMinutes"`
		EstimatedDistanceToEmptyKm         *int            `json:"estimatedDistanceToEmptyKm"`
		Timestamp                          *eventTimestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode battery data: %w", err)
	}

	status, ok := chargingStatusNames[payload.ChargingStatus]
	if !ok {
		status = ChargingStatusUnspecified
	}

	return &CarBattery{
		BatteryChargeLevelPercentage:       payload.BatteryChargeLevelPercentage,
		ChargingStatus:                     status,
		EstimatedChargingTimeToFullMinutes: payload.EstimatedChargingTimeToFullMinutes,
		EstimatedDistanceToEmptyKm:         payload.EstimatedDistanceToEmptyKm,
		EventUpdatedAt:                     payload.Timestamp.Time(),
		ReceivedAt:                         time.Now().UTC(),
	}, nil
}

func parseCarOdometer(raw json.RawMessage) (*CarOdometer, error) {
	var payload struct {
		OdometerMeters *int64          `json:"odometerMeters"`
		Timestamp      *eventTimestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode odometer data: %w", err)
	}

	return &CarOdometer{
		OdometerMeters: payload.OdometerMeters,
		EventUpdatedAt: payload.Timestamp.Time(),
		ReceivedAt:     time.Now().UTC(),
	}, nil
}

func parseCarHealth(raw json.RawMessage) (*CarHealth, error) {
	var payload struct {
		BrakeFluidLevelWarning    string          `json:"brakeFluidLevelWarning"`
		DaysToService             *int            `json:"daysToService"`
		DistanceToServiceKm       *int            `json:"distanceToServiceKm"`
		EngineCoolantLevelWarning string          `json:"engineCoolantLevelWarning"`
		OilLevelWarning           string          `json:"oilLevelWarning"`
		ServiceWarning            string          `json:"serviceWarning"`
		Timestamp                 *eventTimestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode health data: %w", err)
	}

	brakeFluid, ok := brakeFluidLevelWarningNames[payload.BrakeFluidLevelWarning]
	if !ok {
		brakeFluid = BrakeFluidLevelWarningUnspecified
	}
	coolant, ok := engineCoolantLevelWarningNames[payload.EngineCoolantLevelWarning]
	if !ok {
		coolant = EngineCoolantLevelWarningUnspecified
	}
	oil, ok := oilLevelWarningNames[payload.OilLevelWarning]
	if !ok {
		oil = OilLevelWarningUnspecified
	}
	service, ok := serviceWarningNames[payload.ServiceWarning]
	if !ok {
		service = ServiceWarningUnspecified
	}

	return &CarHealth{
		BrakeFluidLevelWarning:    brakeFluid,
		DaysToService:             payload.DaysToService,
		DistanceToServiceKm:       payload.DistanceToServiceKm,
		EngineCoolantLevelWarning: coolant,
		OilLevelWarning:           oil,
		ServiceWarning:            service,
		EventUpdatedAt:            payload.Timestamp.Time(),
		ReceivedAt:                time.Now().UTC(),
	}, nil
}

// CarImage is a single studio image at a given camera angle.
type CarImage struct {
	URL   string `json:"url"`
	Angle int    `json:"angle"`
}

// CarImages is the typed form of a vehicle's imagery payload.
type CarImages struct {
	Transparent []CarImage
	Opaque      []CarImage
	ReceivedAt  time.Time
}

// ImageByAngle returns the image URL for the given angle, or an empty
// string when no image exists at that angle.
func (c *CarImages) ImageByAngle(angle int, transparent bool) string {
	images := c.Opaque
	if transparent {
		images = c.Transparent
	}
	for _, img := range images {
		if img.Angle == angle {
			return img.URL
		}
	}
	return ""
}

// ParseCarImages converts a raw imagery payload into a typed record.
func ParseCarImages(raw json.RawMessage) (*CarImages, error) {
	var payload struct {
		Transparent []CarImage `json:"transparent"`
		Opaque      []CarImage `json:"opaque"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode car images: %w", err)
	}

	return &CarImages{
		Transparent: payload.Transparent,
		Opaque:      payload.Opaque,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s, err)
	}
	return &t, nil
}

func parseDateTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t = t.UTC()
	return &t, nil
}
