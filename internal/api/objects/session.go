// Package objects holds the request and response shapes shared by the API method
// groups together with the session lookup they all start from.
package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/session"
)

// ErrInvalidParams is wrapped by parameter decoding failures
var ErrInvalidParams = errors.New("invalid params")

// Sessions hands out the session of an acting identity
type Sessions interface {
	Get(ctx context.Context, id identity.Identity) (*session.Session, error)
}

// SessionFor returns the session of the authenticated caller
func SessionFor(c *gin.Context, sessions Sessions) (*session.Session, error) {
	id, ok := identity.FromContext(c.Request.Context())
	if !ok {
		return nil, identity.ErrMissingToken
	}
	return sessions.Get(c.Request.Context(), id)
}

// DecodeParams unmarshals an object-shaped params value into out. Missing or null
// params leave out untouched.
func DecodeParams(params json.RawMessage, out interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// PositionalString returns the first element of an array-shaped params value, or the
// named field of an object-shaped one
func PositionalString(params json.RawMessage, field string) (string, error) {
	if len(params) == 0 || string(params) == "null" {
		return "", nil
	}

	var list []interface{}
	if err := json.Unmarshal(params, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		s, ok := list[0].(string)
		if !ok {
			return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParams, field)
		}
		return s, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(params, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	v, present := obj[field]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParams, field)
	}
	return s, nil
}
