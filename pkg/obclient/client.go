// Package obclient is a Go client for the obstetric history HTTP API.
package obclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ehr/obhistory/internal/domain/obstetrics"
)

const apiPrefix = "/api/v1"

// APIError is a non-2xx response. It unwraps to the matching obstetrics
// sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("obhistory api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return obstetrics.ErrNotFound
	case http.StatusConflict:
		return obstetrics.ErrDuplicateActivePregnancy
	case http.StatusBadRequest:
		return obstetrics.ErrValidation
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
}

type Client struct {
	http *resty.Client
}

type Option func(*resty.Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *resty.Client) { c.SetAuthToken(token) }
}

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetError(&errorBody{})
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

func (c *Client) do(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("obhistory api: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	if body, ok := resp.Error().(*errorBody); ok && body.Message != "" {
		msg = body.Message
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}

// Summary fetches the obstetric summary of a case. A nil asOf means today on
// the server.
func (c *Client) Summary(ctx context.Context, caseID uuid.UUID, asOf *time.Time) (*obstetrics.ObstetricSummary, error) {
	var out obstetrics.ObstetricSummary
	req := c.http.R().SetContext(ctx).
		SetPathParam("id", caseID.String()).
		SetResult(&out)
	if asOf != nil {
		req.SetQueryParam("as_of", asOf.Format(obstetrics.DateLayout))
	}
	if err := c.do(req.Get(apiPrefix + "/cases/{id}/obstetric-summary")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRecords(ctx context.Context, caseID uuid.UUID) ([]*obstetrics.PregnancyRecord, error) {
	var out []*obstetrics.PregnancyRecord
	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("id", caseID.String()).
		SetResult(&out).
		Get(apiPrefix + "/cases/{id}/pregnancies")
	if err := c.do(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// AddRecord posts a record and returns it as stored, with its assigned ID.
func (c *Client) AddRecord(ctx context.Context, caseID uuid.UUID, rec obstetrics.PregnancyRecordRequest) (*obstetrics.PregnancyRecord, error) {
	var out obstetrics.PregnancyRecord
	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("id", caseID.String()).
		SetHeader("Content-Type", "application/json").
		SetBody(rec).
		SetResult(&out).
		Post(apiPrefix + "/cases/{id}/pregnancies")
	if err := c.do(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveRecord(ctx context.Context, caseID, recordID uuid.UUID) error {
	resp, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{
			"id":       caseID.String(),
			"recordId": recordID.String(),
		}).
		Delete(apiPrefix + "/cases/{id}/pregnancies/{recordId}")
	return c.do(resp, err)
}
