package gql

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphqlStub serves a canned GraphQL response and captures the request.
type graphqlStub struct {
	response string

	lastHeader    http.Header
	lastQuery     string
	lastOperation string
	lastVariables map[string]any
}

func (s *graphqlStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lastHeader = r.Header.Clone()

		var body struct {
			Query         string         `json:"query"`
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.lastQuery = body.Query
		s.lastOperation = body.OperationName
		s.lastVariables = body.Variables

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, s.response)
	}
}

func newTestClient(t *testing.T, response string) (*Client, *StatusRecorder, *graphqlStub) {
	t.Helper()

	stub := &graphqlStub{response: response}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	status := &StatusRecorder{}
	return NewClient(server.URL, server.Client(), status, zerolog.Nop()), status, stub
}

func TestQuery_Success(t *testing.T) {
	client, status, stub := newTestClient(t,
		`{"data":{"carTelematicsV2":{"battery":[{"vin":"V1"}]}}}`)

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer token-1")

	data, err := client.Query(t.Context(), QueryTelematics, OpTelematics,
		map[string]any{"vins": []string{"V1"}}, headers)
	require.NoError(t, err)

	assert.JSONEq(t, `{"battery":[{"vin":"V1"}]}`, string(data[KeyTelematics]))
	assert.Equal(t, http.StatusOK, status.Code())

	assert.Equal(t, "Bearer token-1", stub.lastHeader.Get("Authorization"))
	assert.Equal(t, OpTelematics, stub.lastOperation)
	assert.Equal(t, map[string]any{"vins": []any{"V1"}}, stub.lastVariables)
}

func TestQuery_NotAuthorized(t *testing.T) {
	client, status, _ := newTestClient(t,
		`{"data":null,"errors":[{"message":"token expired","extensions":{"code":"UNAUTHENTICATED"}}]}`)

	_, err := client.Query(t.Context(), QueryConsumerCars, OpConsumerCars, nil, nil)

	var notAuthorized *NotAuthorizedError
	require.ErrorAs(t, err, &notAuthorized)
	assert.Equal(t, "token expired", notAuthorized.Message)
	assert.Equal(t, http.StatusUnauthorized, status.Code())
}

func TestQuery_QueryError(t *testing.T) {
	client, status, _ := newTestClient(t,
		`{"data":null,"errors":[{"message":"internal failure","extensions":{"code":"INTERNAL"}}]}`)

	_, err := client.Query(t.Context(), QueryConsumerCars, OpConsumerCars, nil, nil)

	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Contains(t, queryErr.Error(), "internal failure")
	assert.Equal(t, http.StatusInternalServerError, status.Code())
}

func TestQuery_ErrorWithoutExtensionCode(t *testing.T) {
	client, status, _ := newTestClient(t,
		`{"data":null,"errors":[{"message":"field does not exist"}]}`)

	_, err := client.Query(t.Context(), QueryConsumerCars, OpConsumerCars, nil, nil)

	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, http.StatusInternalServerError, status.Code())
}

func TestStatusRecorder_SharedBetweenClients(t *testing.T) {
	status := &StatusRecorder{}
	assert.Zero(t, status.Code())

	status.Set(http.StatusOK)
	assert.Equal(t, http.StatusOK, status.Code())

	status.Set(http.StatusUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, status.Code())
}
