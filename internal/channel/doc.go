// Package channel provides the shared pub/sub space every network
// participant speaks over.
//
// # Model
//
// A space is a named topic: everything published on it is delivered to all
// other participants, in the publisher's order. Payloads are opaque bytes;
// decoding them is the envelope package's job.
//
// # Implementations
//
// Broker is an in-memory fan-out used directly in tests and single-process
// deployments. Server/Dial put the same broker behind a gRPC bidirectional
// stream so each agent can run as its own process:
//
//	srv := channel.NewServer(logger)
//	go srv.Serve(lis)
//
//	sess, err := channel.Dial(ctx, addr, "noa-moderator", "chat",
//		grpc.WithTransportCredentials(insecure.NewCredentials()))
//
// Slow consumers do not exert backpressure on publishers: a subscriber whose
// buffer is full loses payloads, and the loss is logged. The protocol above
// keeps at most one request in flight per episode, so a healthy participant
// never comes close to the buffer limit.
package channel
