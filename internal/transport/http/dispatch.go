package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"idylle/internal/action"
	apierrors "idylle/internal/errors"
	"idylle/internal/iocontext"
	"idylle/internal/middleware"
)

// MaxBodyBytes bounds the request body Dispatch reads
const MaxBodyBytes = 1 << 20

// TokenParam is the query parameter carrying the continuation token
const TokenParam = "token"

// requestConn is the connection of a single HTTP request
type requestConn struct {
	id        string
	principal any
}

func (c requestConn) ID() string     { return c.id }
func (c requestConn) Principal() any { return c.principal }

// Dispatch adapts an action to an http.HandlerFunc
func Dispatch(env action.Env, h action.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := requestMessage(w, r)
		if err != nil {
			env.Errors().HandleError(w, r, err)
			return
		}

		ic, err := iocontext.Build(connFromRequest(r), raw, env.Criteria())
		if err != nil {
			env.Errors().HandleError(w, r, err)
			return
		}

		result, err := action.Call(r.Context(), h, env, ic)
		if err != nil {
			env.Errors().HandleError(w, r, err)
			return
		}
		env.Responses().Respond(w, r, result)
	}
}

func connFromRequest(r *http.Request) requestConn {
	id := middleware.GetRequestID(r.Context())
	if id == "" {
		id = uuid.New().String()
	}
	return requestConn{id: id, principal: middleware.PrincipalFrom(r.Context())}
}

// requestMessage returns the message carried by r. A JSON object body is
// completed from the URL: the query when the body has none, and the token
// parameter when the body has no token. Any other body is passed through
// as text. Without a body the message is built from the URL alone.
func requestMessage(w http.ResponseWriter, r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierrors.ErrPayloadTooLarge
		}
		return nil, apierrors.InvalidRequestWithError(err)
	}

	query := r.URL.Query()
	token := query.Get(TokenParam)
	query.Del(TokenParam)

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		msg := &iocontext.Message{}
		if token != "" {
			msg.Token = token
		}
		if len(query) > 0 {
			msg.Query = query
		}
		return msg, nil
	}

	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil || record == nil {
		return body, nil
	}
	if _, ok := record["query"]; !ok && len(query) > 0 {
		record["query"] = query
	}
	if _, ok := record["token"]; !ok && token != "" {
		record["token"] = token
	}
	return record, nil
}
