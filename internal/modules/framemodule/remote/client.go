package remote

import (
	"context"
	"net/rpc"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-plugin"
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// RPCClient is the host side of the frame service
type RPCClient struct {
	client *rpc.Client
	broker *plugin.MuxBroker

	mu         sync.Mutex
	observers  map[string]func(types.Progress)
	subscribed bool
	callbackID uint32
}

var _ service.FrameService = (*RPCClient)(nil)

// NewRPCClient wraps an established plugin connection
func NewRPCClient(c *rpc.Client, b *plugin.MuxBroker) *RPCClient {
	return &RPCClient{
		client:    c,
		broker:    b,
		observers: make(map[string]func(types.Progress)),
	}
}

// call runs method and gives up waiting when ctx ends. The remote side keeps
// running the request; net/rpc has no cancellation.
func (c *RPCClient) call(ctx context.Context, op, method string, args, reply interface{}) error {
	done := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1)).Done
	select {
	case <-ctx.Done():
		return ferrors.New(ferrors.KindInternal, op, ctx.Err())
	case res := <-done:
		if res.Error != nil {
			return ferrors.New(ferrors.KindInternal, op, res.Error)
		}
		return nil
	}
}

func (c *RPCClient) Index(ctx context.Context, req service.IndexRequest) error {
	var reply ErrorReply
	if err := c.call(ctx, "index", "Index", req, &reply); err != nil {
		return err
	}
	return reply.Err.Err()
}

// OnProgress registers fn for progress updates. The first registration opens
// a brokered callback connection the service process dials back on.
func (c *RPCClient) OnProgress(fn func(types.Progress)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	c.observers[id] = fn

	if !c.subscribed {
		c.callbackID = c.broker.NextId()
		go c.broker.AcceptAndServe(c.callbackID, &ProgressServer{deliver: c.deliver})

		var reply ErrorReply
		if err := c.client.Call("Plugin.Subscribe", c.callbackID, &reply); err == nil && reply.Err == nil {
			c.subscribed = true
		}
	}

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		last := len(c.observers) == 0 && c.subscribed
		if last {
			c.subscribed = false
		}
		callbackID := c.callbackID
		c.mu.Unlock()

		if last {
			c.unsubscribe(callbackID)
		}
	}
}

// unsubscribe stops the service from calling back on callbackID
func (c *RPCClient) unsubscribe(callbackID uint32) {
	var reply ErrorReply
	_ = c.client.Call("Plugin.Unsubscribe", callbackID, &reply)
}

func (c *RPCClient) deliver(p types.Progress) {
	c.mu.Lock()
	observers := make([]func(types.Progress), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
}

func (c *RPCClient) SetSeekHandling(mode types.SeekMode) error {
	var reply ErrorReply
	if err := c.call(context.Background(), "set_seek_handling", "SetSeekHandling", mode, &reply); err != nil {
		return err
	}
	return reply.Err.Err()
}

func (c *RPCClient) SetFrameOutputFormat(req types.OutputFormatRequest) error {
	var reply ErrorReply
	if err := c.call(context.Background(), "set_output_format", "SetFrameOutputFormat", req, &reply); err != nil {
		return err
	}
	return reply.Err.Err()
}

func (c *RPCClient) ListTracks() ([]types.TrackDescriptor, error) {
	var reply TracksReply
	if err := c.call(context.Background(), "list_tracks", "ListTracks", new(interface{}), &reply); err != nil {
		return nil, err
	}
	return reply.Tracks, reply.Err.Err()
}

func (c *RPCClient) GetFrame(ctx context.Context, track, n int) (types.FrameRecord, error) {
	var reply FrameReply
	if err := c.call(ctx, "get_frame", "GetFrame", FrameArgs{Track: track, Number: n}, &reply); err != nil {
		return types.FrameRecord{}, err
	}
	return reply.Record, reply.Err.Err()
}

func (c *RPCClient) GetFrames(ctx context.Context, track int) ([]types.FrameRecord, error) {
	var reply FramesReply
	if err := c.call(ctx, "get_frames", "GetFrames", TrackArgs{Track: track}, &reply); err != nil {
		return nil, err
	}
	return reply.Records, reply.Err.Err()
}

func (c *RPCClient) GetFrameAtPosition(ctx context.Context, track int, offset int64) (types.FrameRecord, error) {
	var reply FrameReply
	if err := c.call(ctx, "get_frame_at_position", "GetFrameAtPosition", PositionArgs{Track: track, Offset: offset}, &reply); err != nil {
		return types.FrameRecord{}, err
	}
	return reply.Record, reply.Err.Err()
}

func (c *RPCClient) GetFrameAtTime(ctx context.Context, track int, seconds float64) (types.FrameRecord, error) {
	var reply FrameReply
	if err := c.call(ctx, "get_frame_at_time", "GetFrameAtTime", TimeArgs{Track: track, Seconds: seconds}, &reply); err != nil {
		return types.FrameRecord{}, err
	}
	return reply.Record, reply.Err.Err()
}

func (c *RPCClient) DisplayFrame(ctx context.Context, record types.FrameRecord, surface string) (types.FrameRecord, error) {
	var reply FrameReply
	if err := c.call(ctx, "display_frame", "DisplayFrame", DisplayArgs{Record: record, Surface: surface}, &reply); err != nil {
		return record, err
	}
	return reply.Record, reply.Err.Err()
}

func (c *RPCClient) Snapshot(ctx context.Context, track, n, quality int) ([]byte, error) {
	var reply SnapshotReply
	args := SnapshotArgs{Track: track, Number: n, Quality: quality}
	if err := c.call(ctx, "snapshot", "Snapshot", args, &reply); err != nil {
		return nil, err
	}
	return reply.Data, reply.Err.Err()
}

func (c *RPCClient) Status() (*service.Status, error) {
	var reply StatusReply
	if err := c.call(context.Background(), "status", "Status", new(interface{}), &reply); err != nil {
		return nil, err
	}
	return reply.Status, reply.Err.Err()
}

// Close releases the remote service's sources and drops progress observers
func (c *RPCClient) Close() error {
	c.mu.Lock()
	c.observers = make(map[string]func(types.Progress))
	subscribed := c.subscribed
	c.subscribed = false
	callbackID := c.callbackID
	c.mu.Unlock()

	if subscribed {
		c.unsubscribe(callbackID)
	}

	var reply ErrorReply
	if err := c.call(context.Background(), "close", "Close", new(interface{}), &reply); err != nil {
		return err
	}
	return reply.Err.Err()
}
