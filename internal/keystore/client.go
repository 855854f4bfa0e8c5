package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound indicates the store holds no record for the requested ID.
	ErrNotFound = errors.New("keystore: record not found")
	// ErrUnreachable indicates the store could not be reached at all.
	ErrUnreachable = errors.New("keystore: store unreachable")
)

// StoreError reports a non-2xx store response other than not-found.
type StoreError struct {
	Code   int
	Detail string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("keystore: store error %d: %s", e.Code, e.Detail)
}

// Record is a credential record fetched from the external store. Fields the
// store may add later are preserved verbatim in Extra.
type Record struct {
	ID             string
	CollectionID   string
	CollectionName string
	ExpTime        string
	Count          int64
	Created        string
	Updated        string
	Extra          map[string]any
}

var knownRecordFields = map[string]bool{
	"id":             true,
	"collectionId":   true,
	"collectionName": true,
	"exp_time":       true,
	"count":          true,
	"created":        true,
	"updated":        true,
}

// UnmarshalJSON decodes the known fields and stashes everything else in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decode := func(key string, dst any) error {
		if v, ok := raw[key]; ok {
			return json.Unmarshal(v, dst)
		}
		return nil
	}
	if err := decode("id", &r.ID); err != nil {
		return err
	}
	if err := decode("collectionId", &r.CollectionID); err != nil {
		return err
	}
	if err := decode("collectionName", &r.CollectionName); err != nil {
		return err
	}
	if err := decode("exp_time", &r.ExpTime); err != nil {
		return err
	}
	if err := decode("count", &r.Count); err != nil {
		return err
	}
	if err := decode("created", &r.Created); err != nil {
		return err
	}
	if err := decode("updated", &r.Updated); err != nil {
		return err
	}
	for key, value := range raw {
		if knownRecordFields[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if r.Extra == nil {
			r.Extra = map[string]any{}
		}
		r.Extra[key] = v
	}
	return nil
}

// MarshalJSON renders the record as a flat object including the Extra fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+7)
	for key, value := range r.Extra {
		out[key] = value
	}
	out["id"] = r.ID
	out["collectionId"] = r.CollectionID
	out["collectionName"] = r.CollectionName
	out["exp_time"] = r.ExpTime
	out["count"] = r.Count
	out["created"] = r.Created
	out["updated"] = r.Updated
	return json.Marshal(out)
}

// Options configure the record store client.
type Options struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client reads credential records from a PocketBase-style record store.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	log        zerolog.Logger
}

// New constructs a store client with a bounded request timeout.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("keystore: base url required")
	}
	collection := strings.TrimSpace(opts.Collection)
	if collection == "" {
		return nil, errors.New("keystore: collection required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		httpClient: httpClient,
		log:        opts.Logger,
	}, nil
}

// FetchRecord retrieves a single record by its opaque ID. Validity policy
// (expiry evaluation) is left to the caller.
func (c *Client) FetchRecord(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, errors.New("keystore: record id required")
	}

	endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s", c.baseURL, url.PathEscape(c.collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Record{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("record_id", id).Msg("record store request failed")
		return Record{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.log.Warn().Int("status", resp.StatusCode).Str("record_id", id).Msg("record store returned error")
		return Record{}, &StoreError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return Record{}, &StoreError{Code: resp.StatusCode, Detail: fmt.Sprintf("decode record: %v", err)}
	}
	c.log.Debug().Str("record_id", record.ID).Int64("count", record.Count).Msg("record fetched")
	return record, nil
}

// TestConnection reports whether the store answers its health endpoint. It is
// a reachability probe only and does not touch any record.
func (c *Client) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("record store health probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
