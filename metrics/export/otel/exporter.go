// Package otel bridges the engine's internal counters to an OpenTelemetry
// meter using observable instruments, so collection cost is paid only when
// a reader scrapes.
package otel

import (
	"context"
	"errors"
	"fmt"

	auth "github.com/AHegab/Authorization-microservice"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() auth.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	ID   auth.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{auth.MetricRegisterSuccess, "authsvc_register_success_total", "Accounts created."},
	{auth.MetricRegisterDuplicate, "authsvc_register_duplicate_total", "Registrations rejected for duplicate email."},
	{auth.MetricRegisterWeakPassword, "authsvc_register_weak_password_total", "Registrations rejected by the entropy gate."},
	{auth.MetricLoginSuccess, "authsvc_login_success_total", "Successful credential verifications."},
	{auth.MetricLoginFailure, "authsvc_login_failure_total", "Failed credential verifications."},
	{auth.MetricTwoFactorRequired, "authsvc_two_factor_required_total", "Logins deferred to a two-factor challenge."},
	{auth.MetricTwoFactorSuccess, "authsvc_two_factor_success_total", "Two-factor challenges completed."},
	{auth.MetricTwoFactorFailure, "authsvc_two_factor_failure_total", "Two-factor codes rejected."},
	{auth.MetricTwoFactorReplay, "authsvc_two_factor_replay_total", "Two-factor challenges presented after redemption or expiry."},
	{auth.MetricPasswordResetRequested, "authsvc_password_reset_requested_total", "Password reset emails dispatched."},
	{auth.MetricPasswordResetCompleted, "authsvc_password_reset_completed_total", "Password resets applied."},
	{auth.MetricPasswordResetRejected, "authsvc_password_reset_rejected_total", "Password resets rejected for bad or expired tokens."},
	{auth.MetricTokenValidationValid, "authsvc_token_validation_valid_total", "Queue token validations that passed."},
	{auth.MetricTokenValidationInvalid, "authsvc_token_validation_invalid_total", "Queue token validations that failed."},
	{auth.MetricProfileUpdated, "authsvc_profile_updated_total", "Profile updates applied."},
}

type observedCounter struct {
	id         auth.MetricID
	instrument metric.Int64ObservableCounter
}

type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, engine *auth.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+1)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authsvc_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
