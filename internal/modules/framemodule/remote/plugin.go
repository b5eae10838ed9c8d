// Package remote carries the frame service across a process boundary with
// hashicorp/go-plugin over net/rpc. The service process serves the "frames"
// plugin; hosts dispense it and get a service.FrameService back. Progress
// events flow from the service to the host through a brokered callback
// connection.
package remote

import (
	"fmt"
	"net/rpc"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/mantonx/framecache/internal/modules/framemodule/service"
)

// PluginName is the name the frame service is dispensed under
const PluginName = "frames"

// Handshake configurations for go-plugin
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FRAMECACHE_PLUGIN",
	MagicCookieValue: "framecache",
}

// PluginMap is the map of plugins we can dispense
var PluginMap = map[string]plugin.Plugin{
	PluginName: &FramePlugin{},
}

// FramePlugin is the implementation of plugin.Plugin for the frame service
type FramePlugin struct {
	Impl   service.FrameService
	Logger hclog.Logger
}

// Server returns the RPC server for go-plugin
func (p *FramePlugin) Server(b *plugin.MuxBroker) (interface{}, error) {
	return NewRPCServer(p.Impl, b, p.Logger), nil
}

// Client returns the RPC client for go-plugin
func (p *FramePlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return NewRPCClient(c, b), nil
}

// Serve runs impl as a plugin. It blocks until the host goes away.
func Serve(impl service.FrameService, logger hclog.Logger) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginName: &FramePlugin{Impl: impl, Logger: logger},
		},
		Logger: logger,
	})
}

// Launch starts the service executable and dispenses its frame service.
// The returned client owns the process; Kill it when done.
func Launch(path string, args []string, startTimeout time.Duration, logger hclog.Logger) (*plugin.Client, service.FrameService, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path, args...),
		Logger:           logger.Named("frameserver"),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		StartTimeout:     startTimeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to connect to frame service: %w", err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense frame service: %w", err)
	}

	frames, ok := raw.(service.FrameService)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin %q does not implement the frame service", PluginName)
	}
	return client, frames, nil
}
