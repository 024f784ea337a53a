// Package otel bridges the engine's in-process counters into OpenTelemetry
// asynchronous instruments. The exporter registers one callback that reads
// a metrics snapshot on every collection cycle; the engine's hot paths stay
// free of OTel machinery.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	petauth "github.com/petlink-dev/petauth"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type counterDef struct {
	id   petauth.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{petauth.MetricLoginSuccess, "petauth_login_success_total", "Successful password logins."},
	{petauth.MetricLoginFailure, "petauth_login_failure_total", "Rejected password logins."},
	{petauth.MetricLoginLocked, "petauth_login_locked_total", "Logins rejected by the lockout guard."},
	{petauth.MetricRegisterSuccess, "petauth_register_success_total", "Created accounts."},
	{petauth.MetricRegisterDuplicate, "petauth_register_duplicate_total", "Registrations rejected for a taken email or nickname."},
	{petauth.MetricRefreshSuccess, "petauth_refresh_success_total", "Successful refresh rotations."},
	{petauth.MetricRefreshFailure, "petauth_refresh_failure_total", "Rejected refresh attempts."},
	{petauth.MetricReplayDetected, "petauth_refresh_replay_total", "Refresh tokens presented after rotation."},
	{petauth.MetricSessionInvalidated, "petauth_session_invalidated_total", "Forced session terminations."},
	{petauth.MetricOAuthLoginSuccess, "petauth_oauth_login_success_total", "Successful OAuth logins."},
	{petauth.MetricOAuthAccountCreated, "petauth_oauth_account_created_total", "Accounts created by OAuth logins."},
	{petauth.MetricOAuthFailure, "petauth_oauth_failure_total", "Failed OAuth logins."},
	{petauth.MetricVerificationRequested, "petauth_verification_requested_total", "Started verification flows."},
	{petauth.MetricVerificationResent, "petauth_verification_resent_total", "Re-issued verification codes."},
	{petauth.MetricVerificationSucceeded, "petauth_verification_succeeded_total", "Passed code checks."},
	{petauth.MetricVerificationFailed, "petauth_verification_failed_total", "Failed code checks."},
	{petauth.MetricPasswordResetConfirmed, "petauth_password_reset_confirmed_total", "Completed password resets."},
	{petauth.MetricPasswordResetFailed, "petauth_password_reset_failed_total", "Rejected reset confirmations."},
}

type metricsSource interface {
	MetricsSnapshot() petauth.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         petauth.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter mirrors an engine's metrics into a metric.Meter.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers the engine's counters on meter.
func NewExporter(meter metric.Meter, engine *petauth.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is NewExporter for any snapshot source.
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
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"petauth_audit_dropped_total",
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

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
