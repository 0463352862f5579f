package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oriys/keystore/internal/dsn"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
	"github.com/oriys/keystore/internal/observability"
)

// Open resolves s into a Session: it selects the driver named before the first
// ':', parses the attribute list, and asks the driver to connect. Every
// failure is a *ConfigError whose Kind is one of ErrMalformedDSN,
// ErrDriverNotFound, ErrMissingHost or ErrConnectionFailed; no Session is
// returned in that case.
func (r *Registry) Open(ctx context.Context, s string) (*Session, error) {
	ctx, span := observability.StartSpan(ctx, "keystore.open")
	defer span.End()

	sess, err := r.open(ctx, s)
	if err != nil {
		var ce *ConfigError
		kind := "unknown"
		if errors.As(err, &ce) {
			kind = kindLabel(ce.Kind)
		}
		metrics.RecordSessionFailed(kind)
		logging.Op().Error("keystore: resolve DSN failed", "kind", kind, "error", err)
		observability.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		observability.AttrDriver.String(sess.driver.Name()),
		observability.AttrSessionID.String(sess.id),
	)
	observability.SetSpanOK(span)
	metrics.RecordSessionOpened(sess.driver.Name())
	logging.Op().Info("keystore: session opened", "session", sess.id, "dsn", sess.desc)
	return sess, nil
}

func (r *Registry) open(ctx context.Context, s string) (*Session, error) {
	name, _, err := dsn.SplitDriver(s)
	if err != nil {
		return nil, &ConfigError{Kind: ErrMalformedDSN, DSN: s, Detail: "no driver name found", Err: err}
	}

	d, ok := r.Lookup(name)
	if !ok {
		return nil, &ConfigError{Kind: ErrDriverNotFound, DSN: s, Detail: fmt.Sprintf("driver %q not found", name)}
	}

	params, err := dsn.Parse(s)
	if err != nil {
		ce := &ConfigError{Kind: ErrMalformedDSN, DSN: s, Err: err}
		var se *dsn.SyntaxError
		if errors.As(err, &se) {
			ce.Segment = se.Segment
		}
		return nil, ce
	}
	if params.PortLax {
		logging.Op().Warn("keystore: port is not a number, using 0",
			"driver", name, "port", params.Attrs[dsn.KeyPort])
	}
	if params.TimeoutInvalid {
		logging.Op().Warn("keystore: unparsable timeout, connecting without one",
			"driver", name, "timeout", params.Attrs[dsn.KeyTimeout])
	}
	if !params.HasHost() {
		return nil, &ConfigError{Kind: ErrMissingHost, DSN: s, Detail: "host attribute is required"}
	}

	conn, err := d.Open(ctx, params)
	if err != nil {
		return nil, &ConfigError{Kind: ErrConnectionFailed, DSN: s, Detail: params.String(), Err: err}
	}
	if conn == nil {
		return nil, &ConfigError{Kind: ErrConnectionFailed, DSN: s, Detail: "driver returned no connection"}
	}

	sess := &Session{
		id:     uuid.New().String(),
		driver: d,
		conn:   conn,
		desc:   params.String(),
	}
	if raw, ok := conn.(RawConn); ok {
		sess.raw = raw
	}
	return sess, nil
}

func kindLabel(kind error) string {
	switch kind {
	case ErrMalformedDSN:
		return "malformed_dsn"
	case ErrDriverNotFound:
		return "driver_not_found"
	case ErrMissingHost:
		return "missing_host"
	case ErrConnectionFailed:
		return "connection_failed"
	}
	return "unknown"
}
