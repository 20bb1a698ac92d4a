// Package gql executes GraphQL queries against the Polestar API endpoints,
// returning raw per-field payloads and classifying failures into the
// client's error taxonomy.
package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	graphql "github.com/hasura/go-graphql-client"
	"github.com/rs/zerolog"
)

// executeAttempts bounds retries of a single query. Only transport-level
// failures are retried; a query rejected by the server is permanent.
const executeAttempts = 3

// StatusRecorder keeps the HTTP-like status of the most recent GraphQL
// round trip: 200 on success, 401 when the token was rejected, 500 on any
// other query failure. Best-effort diagnostic, not used for control flow.
type StatusRecorder struct {
	code atomic.Int32
}

// Set records a status code.
func (r *StatusRecorder) Set(code int) {
	r.code.Store(int32(code))
}

// Code returns the most recently recorded status, or zero if no call has
// completed yet.
func (r *StatusRecorder) Code() int {
	return int(r.code.Load())
}

// Client executes raw GraphQL queries over a shared HTTP client.
type Client struct {
	gql    *graphql.Client
	status *StatusRecorder
	logger zerolog.Logger
}

// NewClient creates a client for a single GraphQL endpoint. The status
// recorder may be shared between clients so that one indicator covers all
// endpoints of an API instance.
func NewClient(endpoint string, httpClient *http.Client, status *StatusRecorder, logger zerolog.Logger) *Client {
	return &Client{
		gql:    graphql.NewClient(endpoint, httpClient),
		status: status,
		logger: logger,
	}
}

// Query executes a GraphQL document and returns the result data keyed by
// top-level field. Headers are applied to the outgoing request, carrying
// either the bearer token or the public API key.
//
// A query rejected with extension code UNAUTHENTICATED is returned as
// *NotAuthorizedError; any other server-side query failure as *QueryError.
// Transport failures are retried with exponential backoff and propagate
// unchanged once attempts are exhausted.
func (c *Client) Query(ctx context.Context, document, operationName string, variables map[string]any, headers http.Header) (map[string]json.RawMessage, error) {
	client := c.gql.WithRequestModifier(func(req *http.Request) {
		for name, values := range headers {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	})

	var opts []graphql.Option
	if operationName != "" {
		opts = append(opts, graphql.OperationName(operationName))
	}

	var raw []byte
	operation := func() error {
		var err error
		raw, err = client.ExecRaw(ctx, document, variables, opts...)
		if err != nil {
			var queryErrs graphql.Errors
			if errors.As(err, &queryErrs) {
				return backoff.Permanent(err)
			}
			c.logger.Debug().Err(err).Str("operation", operationName).Msg("graphql transport error, retrying")
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), executeAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, c.classify(err, operationName)
	}

	c.status.Set(http.StatusOK)

	result := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode graphql result: %w", err)
	}
	return result, nil
}

// classify maps a failed execution onto the error taxonomy and records the
// corresponding status code. Non-query errors propagate unchanged.
func (c *Client) classify(err error, operationName string) error {
	var queryErrs graphql.Errors
	if !errors.As(err, &queryErrs) || len(queryErrs) == 0 {
		return err
	}

	first := queryErrs[0]
	c.logger.Debug().Err(err).Str("operation", operationName).Msg("graphql query error")

	if code, ok := first.Extensions["code"].(string); ok && code == "UNAUTHENTICATED" {
		c.status.Set(http.StatusUnauthorized)
		return &NotAuthorizedError{Message: first.Message}
	}

	c.status.Set(http.StatusInternalServerError)
	return &QueryError{Err: err}
}
