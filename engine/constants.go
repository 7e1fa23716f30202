package engine

import "time"

// Wire constants
const (
	// Namespace is the JSON-RPC namespace the engine registers its service under
	Namespace = "engine"

	// MethodHandshake is called once per session before any other request
	MethodHandshake = Namespace + "_handshake"

	// Subscription names passed to <namespace>_subscribe
	SubscriptionDiscover = "discover"
	SubscriptionRunTests = "runTests"

	// ProtocolVersion is the engine protocol version this client speaks
	ProtocolVersion = 1

	// EndpointEnvVar carries the endpoint to a launched engine process
	EndpointEnvVar = "TESTSPLIT_ENGINE_ENDPOINT"
)

// Session constants
const (
	// DefaultConnectionTimeout bounds how long Dial waits for the engine to accept the handshake
	DefaultConnectionTimeout = 90 * time.Second

	// dialRetryInterval is the pause between connection attempts while the engine is starting
	dialRetryInterval = 250 * time.Millisecond

	// eventBufferSize is the buffer of the channel notifications are decoded into
	eventBufferSize = 64
)
