// Command snmpget issues a single SNMP Get and prints the result, using
// the blocking Sync Wrapper instead of standing up a daemon.
//
// Usage:
//
//	snmpget -host HOST -community public -version 2c OID
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/sync"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snmpget: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		host      string
		port      int
		community string
		version   string
		timeout   time.Duration
	)
	flag.StringVar(&host, "host", "", "target hostname or IP (required)")
	flag.IntVar(&port, "port", 161, "target UDP port")
	flag.StringVar(&community, "community", "public", "SNMP community string")
	flag.StringVar(&version, "version", "2c", "SNMP version: 1 or 2c")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "per-request timeout")
	flag.Parse()

	if host == "" || flag.NArg() != 1 {
		return fmt.Errorf("usage: snmpget -host HOST [-community C] [-version 1|2c] OID")
	}
	oid := flag.Arg(0)

	ver, err := parseVersion(version)
	if err != nil {
		return err
	}

	e := sync.New(slog.New(slog.DiscardHandler))
	defer e.Close()

	key := models.HostKey{Hostname: host, Port: uint16(port), Community: community, Version: ver}

	// The engine's own deadline is retry_interval*retries + timeout; give
	// the context room beyond that so a clean CodeTimeout is reported
	// instead of a context error.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+3*time.Second)
	defer cancel()

	code, pdu, err := e.Request(ctx, key, timeout, timeout, transport.OpGet, oid)
	if err != nil {
		return err
	}
	switch code {
	case request.CodeOK:
		sample, ok := transport.SampleOf(pdu.Type, pdu.Value)
		if !ok {
			fmt.Printf("%s = %v (unrecognized type)\n", pdu.Name, pdu.Value)
			return nil
		}
		fmt.Printf("%s = %s\n", pdu.Name, sample.String())
	case request.CodeNoSuchName:
		return fmt.Errorf("no such name: %s", oid)
	case request.CodeTimeout:
		return fmt.Errorf("timeout polling %s:%d", host, port)
	default:
		return fmt.Errorf("unexpected response code %v", code)
	}
	return nil
}

func parseVersion(s string) (models.SNMPVersion, error) {
	switch strings.ToLower(strings.TrimPrefix(s, "v")) {
	case "2c", "":
		return models.V2c, nil
	case "1":
		return models.V1, nil
	default:
		return 0, fmt.Errorf("unsupported version %q (only 1 and 2c)", s)
	}
}
