package relay

import "net/http"

// Route keys for lifecycle phases. Messages arrive under RouteDefault.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// Event is one inbound unit of work: a connection opening or closing, or a
// message frame read from an established connection. The token travels
// with every event; claims are re-derived from it each time.
type Event struct {
	RouteKey     string
	ConnectionID string
	Token        string
	Body         []byte
}

// Response is the per-event outcome reported back to the transport.
type Response struct {
	StatusCode int
	Body       string
}

func ok() Response {
	return Response{StatusCode: http.StatusOK}
}

func badRequest(msg string) Response {
	return Response{StatusCode: http.StatusBadRequest, Body: msg}
}

func unauthorized() Response {
	return Response{StatusCode: http.StatusUnauthorized, Body: "unauthorized"}
}

func forbidden() Response {
	return Response{StatusCode: http.StatusForbidden, Body: "forbidden"}
}

func notFound(msg string) Response {
	return Response{StatusCode: http.StatusNotFound, Body: msg}
}

func conflict(msg string) Response {
	return Response{StatusCode: http.StatusConflict, Body: msg}
}

func internalError(msg string) Response {
	return Response{StatusCode: http.StatusInternalServerError, Body: msg}
}
