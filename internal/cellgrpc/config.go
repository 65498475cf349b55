package cellgrpc

// Config controls the gRPC bridge.
type Config struct {
	SocketPath string
}
