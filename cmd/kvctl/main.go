// Command kvctl is a thin CLI client for exercising a kvmaster over the
// wire protocol: get/put/del against a master address, convenience only
// and not part of the core data plane.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:8888", "kvmaster address")
	timeout := flag.Duration("timeout", time.Second, "request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, key := args[0], args[1]
	var req *wire.Message
	switch cmd {
	case "get":
		req = &wire.Message{Type: wire.GetReq, Key: []byte(key)}
	case "put":
		if len(args) < 3 {
			usage()
			os.Exit(2)
		}
		req = &wire.Message{Type: wire.PutReq, Key: []byte(key), Value: []byte(args[2])}
	case "del":
		req = &wire.Message{Type: wire.DelReq, Key: []byte(key)}
	default:
		usage()
		os.Exit(2)
	}

	conn := netsvc.NewConnector(*timeout)
	resp, err := conn.RequestResponse(*addr, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvctl:", err)
		os.Exit(1)
	}

	switch resp.Type {
	case wire.GetResp:
		fmt.Println(string(resp.Value))
	default:
		fmt.Println(resp.Message)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kvctl [--addr host:port] get <key> | put <key> <value> | del <key>")
}
