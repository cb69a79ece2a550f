// Copyright (c) The Conductor Authors
// SPDX-License-Identifier: MPL-2.0

// Command conductorctl is a thin operator CLI that dials a running
// conductord over the yamux/msgpack RPC transport and issues one
// operation per invocation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	msgpackrpc "github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/hashicorp/yamux"

	"github.com/metalconductor/conductor/transport"
	"github.com/metalconductor/conductor/types"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:6385", "conductord RPC address")
		method     = flag.String("method", "", "operation to invoke, e.g. update_node, do_node_deploy")
		nodeUUID   = flag.String("node", "", "node UUID")
		driverName = flag.String("driver", "", "driver name (driver-scoped operations)")
		target     = flag.String("target", "", "target power state for change_node_power_state")
		patchJSON  = flag.String("patch", "{}", "JSON object patch for update_node/update_port")
		filter     = flag.String("filter", "", "bexpr filter expression for list_nodes")
	)
	flag.Parse()

	if *method == "" {
		fmt.Fprintln(os.Stderr, "conductorctl: -method is required")
		os.Exit(2)
	}

	var patch map[string]any
	if err := json.Unmarshal([]byte(*patchJSON), &patch); err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: invalid -patch JSON: %v\n", err)
		os.Exit(2)
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	session, err := yamux.Client(conn, yamux.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: yamux client: %v\n", err)
		os.Exit(1)
	}
	stream, err := session.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: opening stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	codec := msgpackrpc.NewClientCodec(stream)

	args := &transport.Args{
		Method:     *method,
		NodeUUID:   *nodeUUID,
		DriverName: *driverName,
		Target:     types.PowerState(*target),
		Patch:      patch,
		Filter:     *filter,
	}
	var reply transport.Reply
	if err := msgpackrpc.CallWithCodec(codec, "Conductor.Call", args, &reply); err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: RPC call failed: %v\n", err)
		os.Exit(1)
	}
	if reply.ErrorKind != "" {
		fmt.Fprintf(os.Stderr, "conductorctl: %s: %s\n", reply.ErrorKind, reply.ErrorMessage)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(reply.Result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductorctl: encoding result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
