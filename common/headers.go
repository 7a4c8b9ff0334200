package common

// NATS header keys shared by the NATS invoker and the NATS host. The error
// headers follow the nats micro service convention.
const (
	ServiceErrorHeader     = "Nats-Service-Error"
	ServiceErrorCodeHeader = "Nats-Service-Error-Code"
	RequestIDHeader        = "Hit-Counter-Request-Id"
)
