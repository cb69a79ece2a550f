// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Package transport is the default RpcEndpoint adapter spec.md §4.G
// leaves unspecified: a net/rpc service multiplexed over yamux streams,
// framed with msgpack, matching the wire stack the rest of the pack
// (hashicorp-nomad's RPC layer) is built on.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/hashicorp/yamux"

	"github.com/metalconductor/conductor/conductor"
	"github.com/metalconductor/conductor/conductorerr"
	"github.com/metalconductor/conductor/store"
	"github.com/metalconductor/conductor/types"
)

// Args is the single envelope every Endpoint method accepts: which
// operation to run plus its arguments, keyed loosely so one net/rpc
// method ("Conductor.Call") can front the whole RPC handler surface
// without hand-writing one rpc.Register-able type per operation.
type Args struct {
	Method     string
	NodeUUID   string
	PortID     int64
	DriverName string
	VendorCall string
	Target     types.PowerState
	Device     string
	Persistent bool
	Enabled    bool
	Patch      map[string]any
	VendorArgs map[string]any
	Filter     string
}

// Reply carries either a result or a structured conductor error. Expected
// failures (NodeLocked, NodeNotFound, ...) travel in ErrorKind/ErrorMessage
// rather than as a net/rpc transport error, so a client can branch on
// conductorerr.Kind the same way an in-process caller would.
type Reply struct {
	Result       any
	ErrorKind    string
	ErrorMessage string
}

func (r *Reply) setErr(err error) {
	if err == nil {
		return
	}
	r.ErrorKind = string(conductorerr.KindOf(err))
	r.ErrorMessage = err.Error()
}

// Endpoint is the net/rpc-registered service. Its exported methods follow
// net/rpc's required shape: func(args *Args, reply *Reply) error.
type Endpoint struct {
	core *conductor.Core
	log  hclog.Logger
}

// NewEndpoint wraps core for RPC dispatch.
func NewEndpoint(core *conductor.Core, log hclog.Logger) *Endpoint {
	return &Endpoint{core: core, log: log}
}

// Call dispatches args.Method to the matching ConductorCore operation.
// One net/rpc method fronting many operations keeps the wire contract
// stable as the handler set grows, at the cost of losing static
// per-method argument typing — acceptable here since Args/Reply are
// already the stable boundary the rest of this package enforces.
func (e *Endpoint) Call(args *Args, reply *Reply) error {
	return e.dispatch(context.Background(), args, reply)
}

// dispatch holds the actual per-method switch; split out from Call to
// keep Call's net/rpc signature readable.
func (e *Endpoint) dispatch(ctx context.Context, args *Args, reply *Reply) error {
	switch args.Method {
	case "update_node":
		n, err := e.core.UpdateNode(ctx, args.NodeUUID, args.Patch)
		reply.Result = n
		reply.setErr(err)
	case "destroy_node":
		err := e.core.DestroyNode(ctx, args.NodeUUID)
		reply.setErr(err)
	case "validate_driver_interfaces":
		v, err := e.core.ValidateDriverInterfaces(ctx, args.NodeUUID)
		reply.Result = v
		reply.setErr(err)
	case "change_node_power_state":
		err := e.core.ChangeNodePowerState(ctx, args.NodeUUID, args.Target)
		reply.setErr(err)
	case "get_boot_device":
		device, persistent, err := e.core.GetBootDevice(ctx, args.NodeUUID)
		reply.Result = map[string]any{"boot_device": device, "persistent": persistent}
		reply.setErr(err)
	case "set_boot_device":
		err := e.core.SetBootDevice(ctx, args.NodeUUID, args.Device, args.Persistent)
		reply.setErr(err)
	case "get_supported_boot_devices":
		devices, err := e.core.GetSupportedBootDevices(ctx, args.NodeUUID)
		reply.Result = devices
		reply.setErr(err)
	case "get_driver_properties":
		props, err := e.core.GetDriverProperties(args.DriverName)
		reply.Result = props
		reply.setErr(err)
	case "vendor_passthru":
		res, err := e.core.VendorPassthru(ctx, args.NodeUUID, args.VendorCall, args.VendorArgs)
		reply.Result = res
		reply.setErr(err)
	case "driver_vendor_passthru":
		res, err := e.core.DriverVendorPassthru(args.DriverName, args.VendorCall, args.VendorArgs)
		reply.Result = res
		reply.setErr(err)
	case "get_node_vendor_passthru_methods":
		m, err := e.core.GetNodeVendorPassthruMethods(ctx, args.NodeUUID)
		reply.Result = m
		reply.setErr(err)
	case "get_driver_vendor_passthru_methods":
		m, err := e.core.GetDriverVendorPassthruMethods(args.DriverName)
		reply.Result = m
		reply.setErr(err)
	case "do_node_deploy":
		err := e.core.DoNodeDeploy(ctx, args.NodeUUID)
		reply.setErr(err)
	case "do_node_tear_down":
		err := e.core.DoNodeTearDown(ctx, args.NodeUUID)
		reply.setErr(err)
	case "get_console_information":
		info, err := e.core.GetConsoleInformation(ctx, args.NodeUUID)
		reply.Result = info
		reply.setErr(err)
	case "set_console_mode":
		err := e.core.SetConsoleMode(ctx, args.NodeUUID, args.Enabled)
		reply.setErr(err)
	case "update_port":
		p, err := e.core.UpdatePort(ctx, args.PortID, args.Patch)
		reply.Result = p
		reply.setErr(err)
	case "list_nodes":
		nodes, err := e.core.ListNodes(ctx, nodeFilterFromArgs(args), args.Filter)
		reply.Result = nodes
		reply.setErr(err)
	default:
		reply.setErr(conductorerr.New(conductorerr.InvalidParameterValue, "unknown RPC method %q", args.Method))
	}
	return nil
}

// nodeFilterFromArgs builds the cheap storage-level filter for list_nodes.
// The wire contract only exposes the richer bexpr expression (args.Filter)
// to keep Args flat; a caller needing the structured store.NodeFilter
// knobs (reserved, provisioned_before, ...) can express them in bexpr too.
func nodeFilterFromArgs(args *Args) store.NodeFilter {
	return store.NodeFilter{}
}

// Serve accepts connections on ln, multiplexes each with yamux, and
// serves a net/rpc server over every resulting stream using msgpack
// framing. It blocks until ctx is cancelled or ln.Accept fails.
func Serve(ctx context.Context, ln net.Listener, core *conductor.Core, log hclog.Logger) error {
	server := rpc.NewServer()
	if err := server.RegisterName("Conductor", NewEndpoint(core, log)); err != nil {
		return fmt.Errorf("registering RPC endpoint: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(conn, server, log)
		}()
	}
}

func serveConn(conn net.Conn, server *rpc.Server, log hclog.Logger) {
	session, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		if log != nil {
			log.Error("failed establishing yamux session", "remote", conn.RemoteAddr(), "error", err)
		}
		conn.Close()
		return
	}
	defer session.Close()

	for {
		stream, err := session.Accept()
		if err != nil {
			return // session closed by the client, nothing left to do
		}
		go server.ServeCodec(msgpackrpc.NewServerCodec(stream))
	}
}
