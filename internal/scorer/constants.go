package scorer

import "time"

// gRPC service naming. There is no generated stub: the request is a
// wrapperspb.BytesValue carrying EncodePair output and the response a
// wrapperspb.FloatValue.
const (
	ServiceName = "respawnwatch.scorer.v1.Scorer"
	ScoreMethod = "/" + ServiceName + "/Score"
)

// Client connection defaults.
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Upper bound for a single remote score, including retries.
	DefaultCallTimeout = 2 * time.Second

	// How long startup waits for scorerd before giving up on it.
	DefaultReadyTimeout = 3 * time.Second

	// Scene tensors of a 4K monitor exceed the 4 MB gRPC default.
	MaxMessageSize = 256 << 20
)
