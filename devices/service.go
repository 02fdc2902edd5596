package devices

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/auth"
	"github.com/goliatone/go-walletsync/core"
)

type RegisterOutcome string

const (
	OutcomeCreated       RegisterOutcome = "created"
	OutcomeUpdated       RegisterOutcome = "updated"
	OutcomeUnchanged     RegisterOutcome = "unchanged"
	OutcomeUnknownSerial RegisterOutcome = "unknown_serial"
)

type RegisterInput struct {
	DeviceID           string
	PassTypeIdentifier string
	Serial             string
	PushToken          string
}

type UnregisterInput struct {
	DeviceID           string
	PassTypeIdentifier string
	Serial             string
}

type Service struct {
	passes             core.PassStore
	secret             string
	passTypeIdentifier string
	telemetry          core.Telemetry
	now                func() time.Time
}

type Option func(*Service)

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(s *Service) {
		s.telemetry = telemetry
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService binds the store to the shared device secret and the configured
// pass type identifier. Requests for other pass types never touch storage.
func NewService(passes core.PassStore, secret string, passTypeIdentifier string, opts ...Option) *Service {
	service := &Service{
		passes:             passes,
		secret:             strings.TrimSpace(secret),
		passTypeIdentifier: strings.TrimSpace(passTypeIdentifier),
		telemetry:          core.NewTelemetry(nil, nil),
		now:                time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Authorize checks an "ApplePass <token>" header against the shared secret.
func (s *Service) Authorize(header string) error {
	if !auth.MatchScheme(header, auth.SchemeApplePass, s.secret) {
		return core.UnauthorizedError("devices: invalid device authorization")
	}
	return nil
}

// Register stores the push token for the device on the pass, replacing any
// earlier token for the same device.
func (s *Service) Register(ctx context.Context, in RegisterInput) (outcome RegisterOutcome, err error) {
	startedAt := time.Now()
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "device_register", err, map[string]any{
			"serial":  in.Serial,
			"outcome": string(outcome),
		})
	}()
	if err := validateKey(in.DeviceID, in.Serial); err != nil {
		return "", err
	}
	pushToken := strings.TrimSpace(in.PushToken)
	if pushToken == "" {
		return "", core.ValidationError("pushToken", "devices: push token is required")
	}
	pass, err := s.lookup(ctx, in.PassTypeIdentifier, in.Serial)
	if err != nil {
		return "", err
	}
	if pass == nil {
		return OutcomeUnknownSerial, nil
	}

	deviceID := strings.TrimSpace(in.DeviceID)
	result := OutcomeUnchanged
	now := s.now().UTC()
	_, err = s.passes.UpdateDeviceTokens(ctx, pass.ID, func(tokens []core.DeviceToken) ([]core.DeviceToken, bool) {
		next, changed, created := Upsert(tokens, core.DeviceToken{DeviceID: deviceID, PushToken: pushToken, RegisteredAt: now})
		switch {
		case created:
			result = OutcomeCreated
		case changed:
			result = OutcomeUpdated
		default:
			result = OutcomeUnchanged
		}
		return next, changed
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// Unregister removes the device from the pass. Absent entries and unknown
// serials succeed without changes.
func (s *Service) Unregister(ctx context.Context, in UnregisterInput) (err error) {
	startedAt := time.Now()
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "device_unregister", err, map[string]any{"serial": in.Serial})
	}()
	if err := validateKey(in.DeviceID, in.Serial); err != nil {
		return err
	}
	pass, err := s.lookup(ctx, in.PassTypeIdentifier, in.Serial)
	if err != nil || pass == nil {
		return err
	}
	deviceID := strings.TrimSpace(in.DeviceID)
	_, err = s.passes.UpdateDeviceTokens(ctx, pass.ID, func(tokens []core.DeviceToken) ([]core.DeviceToken, bool) {
		return Remove(tokens, deviceID)
	})
	return err
}

// UpdatedSerials lists serials registered to the device that changed after
// since, with the newest change time as the next cursor.
func (s *Service) UpdatedSerials(ctx context.Context, deviceID string, passTypeIdentifier string, since *time.Time) ([]string, time.Time, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, time.Time{}, core.ValidationError("device_id", "devices: device id is required")
	}
	if !s.passTypeMatches(passTypeIdentifier) {
		return nil, time.Time{}, nil
	}
	rows, err := s.passes.ListByDevice(ctx, deviceID, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	serials := make([]string, 0, len(rows))
	var latest time.Time
	for _, row := range rows {
		if strings.TrimSpace(row.AppleSerial) == "" {
			continue
		}
		serials = append(serials, row.AppleSerial)
		if row.LastSyncedAt != nil && row.LastSyncedAt.After(latest) {
			latest = *row.LastSyncedAt
		}
	}
	return serials, latest, nil
}

// Lookup returns the pass for a serial of the configured pass type, or nil.
func (s *Service) Lookup(ctx context.Context, passTypeIdentifier string, serial string) (*core.Pass, error) {
	return s.lookup(ctx, passTypeIdentifier, serial)
}

func (s *Service) lookup(ctx context.Context, passTypeIdentifier string, serial string) (*core.Pass, error) {
	if !s.passTypeMatches(passTypeIdentifier) {
		s.telemetry.LogWarn(ctx, "device request for foreign pass type", map[string]any{"pass_type_identifier": passTypeIdentifier})
		return nil, nil
	}
	pass, err := s.passes.FindBySerial(ctx, strings.TrimSpace(serial))
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if pass == nil {
		s.telemetry.LogInfo(ctx, "device request for unknown serial", map[string]any{"serial": serial})
	}
	return pass, nil
}

func (s *Service) passTypeMatches(passTypeIdentifier string) bool {
	if s.passTypeIdentifier == "" {
		return true
	}
	return strings.TrimSpace(passTypeIdentifier) == s.passTypeIdentifier
}

func validateKey(deviceID string, serial string) error {
	if strings.TrimSpace(deviceID) == "" {
		return core.ValidationError("device_id", "devices: device id is required")
	}
	if strings.TrimSpace(serial) == "" {
		return core.ValidationError("serial", "devices: serial number is required")
	}
	return nil
}
