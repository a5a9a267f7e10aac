// Package http is the default HTTP transport. It owns the listening
// *http.Server, adapts actions to handlers and serves the health endpoints.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Dispatch → Action
//	                                            ↓
//	HTTP Response ← ResponseHandler / ErrorHandler ←┘
//
// Dispatch builds the same per-message context the websocket transport
// builds. A JSON body is the message; without a body the URL query is used
// as the message's query and the "token" parameter as its token.
//
// # Error Handling
//
// Errors are rendered by the environment's ErrorHandler, by default as
// RFC 7807 problems:
//
//	{
//	    "type": "/errors/context/invalid",
//	    "title": "Invalid Context",
//	    "status": 400,
//	    "detail": "invalid context: missing message",
//	    "instance": "/api/users.list"
//	}
package http
