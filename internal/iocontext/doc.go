// Package iocontext builds the request context an action receives for each
// inbound message.
//
// A context is derived from three inputs: the connection the message came
// in on, the raw message, and a criteria builder. The connection and the
// message are required; a missing one yields an *InvalidContextError that
// matches ErrInvalidContext. Text messages are decoded as JSON objects with
// the optional keys data, token and query.
//
//	ctx, err := iocontext.Build(client, frame.Message, env.Criteria)
//	if errors.Is(err, iocontext.ErrInvalidContext) {
//	    // reject the frame
//	}
//
// A Context is built fresh for every message and is read-only.
package iocontext
