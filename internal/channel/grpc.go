// ABOUTME: gRPC transport for the shared chat space: broker server and client sessions.
// ABOUTME: One bidirectional Attach stream per participant; frames carry a join header or an opaque payload.

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const attachMethod = "/noa.channel.v1.Channel/Attach"

// frame is the single wire message on an Attach stream. The first frame a
// client sends must carry Join; every later frame carries Payload.
type frame struct {
	Join    *joinFrame `json:"join,omitempty"`
	Payload []byte     `json:"payload,omitempty"`
}

// joinFrame announces who is attaching and to which shared space.
type joinFrame struct {
	Participant string `json:"participant"`
	Space       string `json:"space"`
}

// frameCodec marshals frames as JSON. Registered per-stream via ForceCodec
// so the broker needs no generated protobuf types.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("frame codec: unexpected message type %T", v)
	}
	return json.Marshal(f)
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("frame codec: unexpected message type %T", v)
	}
	return json.Unmarshal(data, f)
}

func (frameCodec) Name() string { return "noa-frame" }

// channelService is the HandlerType registered for the Attach stream.
type channelService interface{}

var channelServiceDesc = grpc.ServiceDesc{
	ServiceName: "noa.channel.v1.Channel",
	HandlerType: (*channelService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Attach",
			Handler:       attachHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "noa/channel/v1",
}

// Server exposes a Broker to remote participants over gRPC.
type Server struct {
	broker *Broker
	grpc   *grpc.Server
	logger *slog.Logger
}

// NewServer creates a broker server. Pass nil logger for default.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		broker: NewBroker(logger),
		logger: logger.With("component", "channel-server"),
	}
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(frameCodec{}))
	s.grpc.RegisterService(&channelServiceDesc, s)
	return s
}

// Serve accepts participant streams on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("channel broker listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Shutdown stops the gRPC server gracefully and closes the broker.
func (s *Server) Shutdown() {
	s.grpc.GracefulStop()
	s.broker.Close()
}

// attachHandler bridges one participant stream onto the in-memory broker.
func attachHandler(srv any, stream grpc.ServerStream) error {
	s, ok := srv.(*Server)
	if !ok {
		return status.Error(codes.Internal, "bad service registration")
	}

	var first frame
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.Join == nil || first.Join.Participant == "" || first.Join.Space == "" {
		return status.Error(codes.InvalidArgument, "first frame must join a space")
	}
	join := first.Join

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	sub := s.broker.Attach(ctx, join.Space, join.Participant)
	defer func() { _ = sub.Close() }()

	s.logger.Info("participant joined",
		"participant", join.Participant,
		"space", join.Space)
	defer s.logger.Info("participant left",
		"participant", join.Participant,
		"space", join.Space)

	// Forward broker deliveries down the stream. SendMsg is only called
	// from this goroutine, satisfying the one-concurrent-sender rule.
	errc := make(chan error, 1)
	go func() {
		for {
			payload, err := sub.Receive(ctx)
			if err != nil {
				errc <- err
				return
			}
			if err := stream.SendMsg(&frame{Payload: payload}); err != nil {
				errc <- err
				return
			}
		}
	}()

	// Pump inbound publishes into the broker.
	for {
		select {
		case err := <-errc:
			if err == ErrClosed || err == context.Canceled {
				return nil
			}
			return err
		default:
		}

		var f frame
		if err := stream.RecvMsg(&f); err != nil {
			cancel()
			if stream.Context().Err() != nil {
				return nil
			}
			return err
		}
		if f.Payload == nil {
			continue
		}
		if err := sub.Publish(ctx, f.Payload); err != nil {
			return err
		}
	}
}

// Session is a remote participant's attachment to a broker space. It
// implements Channel over a single Attach stream. A pump goroutine owns the
// stream's receive side so Receive can honor caller deadlines.
type Session struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream

	sendMu   sync.Mutex
	payloads chan []byte
	recvErr  error
	recvDone chan struct{}
}

// Dial connects to a broker, joins the shared space as participant, and
// returns the live session. Extra dial options are appended after the
// defaults, so tests can inject bufconn dialers.
func Dial(ctx context.Context, target, participant, space string, opts ...grpc.DialOption) (*Session, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect channel broker: %w", err)
	}

	desc := &grpc.StreamDesc{
		StreamName:    "Attach",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := conn.NewStream(ctx, desc, attachMethod, grpc.ForceCodec(frameCodec{}))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open attach stream: %w", err)
	}

	join := &frame{Join: &joinFrame{Participant: participant, Space: space}}
	if err := stream.SendMsg(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join space %q: %w", space, err)
	}

	s := &Session{
		conn:     conn,
		stream:   stream,
		payloads: make(chan []byte, subscriptionBufferSize),
		recvDone: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// pump drains the stream into the payload buffer until the stream ends.
func (s *Session) pump() {
	defer close(s.recvDone)
	for {
		var f frame
		if err := s.stream.RecvMsg(&f); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.recvErr = ErrClosed
			case status.Code(err) == codes.Unavailable || status.Code(err) == codes.Canceled:
				s.recvErr = ErrClosed
			default:
				s.recvErr = fmt.Errorf("receive: %w", err)
			}
			return
		}
		if f.Payload == nil {
			continue
		}
		s.payloads <- f.Payload
	}
}

// Publish implements Channel.
func (s *Session) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.stream.SendMsg(&frame{Payload: payload}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Receive implements Channel. Stream teardown surfaces as ErrClosed so
// receive loops can exit cleanly and leave restarts to a supervisor.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.payloads:
		return payload, nil
	default:
	}

	select {
	case payload := <-s.payloads:
		return payload, nil
	case <-s.recvDone:
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Channel.
func (s *Session) Close() error {
	_ = s.stream.CloseSend()
	return s.conn.Close()
}
