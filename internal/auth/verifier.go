package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nfern/imagegate/internal/keystore"
)

var (
	// ErrMissingKey indicates the caller supplied no API key.
	ErrMissingKey = errors.New("auth: missing api key")
	// ErrInvalidKey indicates the store holds no record for the key.
	ErrInvalidKey = errors.New("auth: invalid api key")
	// ErrExpired indicates the record's expiry is strictly in the past.
	ErrExpired = errors.New("auth: api key expired")
	// ErrStoreUnreachable indicates the record store could not be reached.
	ErrStoreUnreachable = errors.New("auth: record store unreachable")
	// ErrMalformedExpiry indicates the record carries an unparseable expiry.
	ErrMalformedExpiry = errors.New("auth: malformed expiry timestamp")
)

// Result is the outcome of verifying one caller key. Produced once per inbound
// request and never persisted.
type Result struct {
	Valid    bool
	RecordID string
	Count    int64
	Reason   string
	Record   keystore.Record
}

// RecordFetcher is the slice of the keystore client the verifier needs.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, id string) (keystore.Record, error)
}

// Verifier applies validity policy on top of raw credential records: a record
// with no expiry is always valid, one with an expiry is valid iff now is not
// strictly after it. Usage counts are read-only passthrough; incrementing is
// the caller's responsibility, not this service's.
type Verifier struct {
	store RecordFetcher
	now   func() time.Time
	log   zerolog.Logger
}

// NewVerifier constructs a verifier over the given record fetcher.
func NewVerifier(store RecordFetcher, log zerolog.Logger) *Verifier {
	return &Verifier{store: store, now: time.Now, log: log}
}

// WithClock overrides the verifier's clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the caller-supplied key against the record store and applies
// expiry policy. On failure the returned Result carries the reason and the
// error identifies the failure class.
func (v *Verifier) Verify(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{Reason: "missing key"}, ErrMissingKey
	}

	record, err := v.store.FetchRecord(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, keystore.ErrNotFound):
			return Result{Reason: "invalid key"}, ErrInvalidKey
		case errors.Is(err, keystore.ErrUnreachable):
			return Result{Reason: "auth service down"}, ErrStoreUnreachable
		default:
			v.log.Error().Err(err).Msg("record store error during verification")
			return Result{Reason: "auth store error"}, ErrStoreUnreachable
		}
	}

	if raw := strings.TrimSpace(record.ExpTime); raw != "" {
		expiry, err := keystore.ParseExpiry(raw)
		if err != nil {
			v.log.Warn().Str("record_id", record.ID).Str("exp_time", raw).Msg("record carries malformed expiry")
			return Result{RecordID: record.ID, Reason: "malformed expiry"}, ErrMalformedExpiry
		}
		if v.now().After(expiry) {
			return Result{RecordID: record.ID, Count: record.Count, Reason: "expired", Record: record}, ErrExpired
		}
	}

	return Result{
		Valid:    true,
		RecordID: record.ID,
		Count:    record.Count,
		Record:   record,
	}, nil
}
