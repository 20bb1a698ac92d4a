package gql

import "fmt"

// NotAuthorizedError indicates the API rejected the bearer token
// mid-session (GraphQL error extension code UNAUTHENTICATED).
type NotAuthorizedError struct {
	Message string
}

func (e *NotAuthorizedError) Error() string {
	if e.Message == "" {
		return "not authorized"
	}
	return fmt.Sprintf("not authorized: %s", e.Message)
}

// QueryError wraps any other server-side query failure.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graphql query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
