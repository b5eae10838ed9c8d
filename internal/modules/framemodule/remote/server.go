package remote

import (
	"context"
	"net/rpc"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// RPCServer exposes a FrameService to a host process
type RPCServer struct {
	Impl   service.FrameService
	broker *plugin.MuxBroker
	logger hclog.Logger

	mu   sync.Mutex
	subs map[uint32]subscription
}

type subscription struct {
	cancel func()
	client *rpc.Client
}

// NewRPCServer wraps impl for net/rpc
func NewRPCServer(impl service.FrameService, broker *plugin.MuxBroker, logger hclog.Logger) *RPCServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RPCServer{
		Impl:   impl,
		broker: broker,
		logger: logger.Named("rpc"),
		subs:   make(map[uint32]subscription),
	}
}

func (s *RPCServer) Index(args service.IndexRequest, resp *ErrorReply) error {
	resp.Err = toWire(s.Impl.Index(context.Background(), args))
	return nil
}

// Subscribe dials the host's progress callback server and forwards every
// progress update to it.
func (s *RPCServer) Subscribe(id uint32, resp *ErrorReply) error {
	conn, err := s.broker.Dial(id)
	if err != nil {
		resp.Err = toWire(err)
		return nil
	}
	client := rpc.NewClient(conn)

	logger := s.logger.With("callback_id", id)
	cancel := s.Impl.OnProgress(func(p types.Progress) {
		var reply ErrorReply
		if err := client.Call("Plugin.Progress", p, &reply); err != nil {
			logger.Debug("progress callback failed", "operation_id", p.OperationID, "error", err)
		}
	})

	s.mu.Lock()
	s.subs[id] = subscription{cancel: cancel, client: client}
	s.mu.Unlock()
	logger.Debug("progress subscriber attached")
	return nil
}

// Unsubscribe detaches the progress forwarder registered under id
func (s *RPCServer) Unsubscribe(id uint32, resp *ErrorReply) error {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		sub.cancel()
		sub.client.Close()
		s.logger.Debug("progress subscriber detached", "callback_id", id)
	}
	return nil
}

func (s *RPCServer) SetSeekHandling(mode types.SeekMode, resp *ErrorReply) error {
	resp.Err = toWire(s.Impl.SetSeekHandling(mode))
	return nil
}

func (s *RPCServer) SetFrameOutputFormat(req types.OutputFormatRequest, resp *ErrorReply) error {
	resp.Err = toWire(s.Impl.SetFrameOutputFormat(req))
	return nil
}

func (s *RPCServer) ListTracks(args interface{}, resp *TracksReply) error {
	tracks, err := s.Impl.ListTracks()
	resp.Tracks, resp.Err = tracks, toWire(err)
	return nil
}

func (s *RPCServer) GetFrame(args FrameArgs, resp *FrameReply) error {
	rec, err := s.Impl.GetFrame(context.Background(), args.Track, args.Number)
	resp.Record, resp.Err = rec, toWire(err)
	return nil
}

func (s *RPCServer) GetFrames(args TrackArgs, resp *FramesReply) error {
	recs, err := s.Impl.GetFrames(context.Background(), args.Track)
	resp.Records, resp.Err = recs, toWire(err)
	return nil
}

func (s *RPCServer) GetFrameAtPosition(args PositionArgs, resp *FrameReply) error {
	rec, err := s.Impl.GetFrameAtPosition(context.Background(), args.Track, args.Offset)
	resp.Record, resp.Err = rec, toWire(err)
	return nil
}

func (s *RPCServer) GetFrameAtTime(args TimeArgs, resp *FrameReply) error {
	rec, err := s.Impl.GetFrameAtTime(context.Background(), args.Track, args.Seconds)
	resp.Record, resp.Err = rec, toWire(err)
	return nil
}

func (s *RPCServer) DisplayFrame(args DisplayArgs, resp *FrameReply) error {
	rec, err := s.Impl.DisplayFrame(context.Background(), args.Record, args.Surface)
	resp.Record, resp.Err = rec, toWire(err)
	return nil
}

func (s *RPCServer) Snapshot(args SnapshotArgs, resp *SnapshotReply) error {
	data, err := s.Impl.Snapshot(context.Background(), args.Track, args.Number, args.Quality)
	resp.Data, resp.Err = data, toWire(err)
	return nil
}

func (s *RPCServer) Status(args interface{}, resp *StatusReply) error {
	st, err := s.Impl.Status()
	resp.Status, resp.Err = st, toWire(err)
	return nil
}

// Close releases the service's decode sources and drops all progress
// subscribers. The plugin process itself stays up until the host kills it.
func (s *RPCServer) Close(args interface{}, resp *ErrorReply) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint32]subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.client.Close()
	}
	resp.Err = toWire(s.Impl.Close())
	return nil
}

// ProgressServer runs on the host side of a brokered connection and receives
// progress updates from the service process.
type ProgressServer struct {
	deliver func(types.Progress)
}

func (p *ProgressServer) Progress(update types.Progress, resp *ErrorReply) error {
	p.deliver(update)
	return nil
}
