// Command snmpset writes a single value to a target OID and prints the
// agent's echoed binding, using the blocking Sync Wrapper like the other
// probe tools.
//
// Usage:
//
//	snmpset -host HOST [-community private] -type s OID VALUE
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/sync"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snmpset: %v\n", err)
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
		valType   string
	)
	flag.StringVar(&host, "host", "", "target hostname or IP (required)")
	flag.IntVar(&port, "port", 161, "target UDP port")
	flag.StringVar(&community, "community", "private", "SNMP community string")
	flag.StringVar(&version, "version", "2c", "SNMP version: 1 or 2c")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "per-request timeout")
	flag.StringVar(&valType, "type", "s", "value type: i (Integer), u (Gauge32), c (Counter32), t (TimeTicks), s (OctetString), o (OID), a (IpAddress)")
	flag.Parse()

	if host == "" || flag.NArg() != 2 {
		return fmt.Errorf("usage: snmpset -host HOST [-type i|u|c|t|s|o|a] OID VALUE")
	}
	oid := flag.Arg(0)

	val, err := parseSetValue(valType, flag.Arg(1))
	if err != nil {
		return err
	}
	ver, err := parseVersion(version)
	if err != nil {
		return err
	}

	e := sync.New(slog.New(slog.DiscardHandler))
	defer e.Close()

	key := models.HostKey{Hostname: host, Port: uint16(port), Community: community, Version: ver}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+3*time.Second)
	defer cancel()

	code, pdu, err := e.Set(ctx, key, timeout, oid, val)
	if err != nil {
		return err
	}
	switch code {
	case request.CodeOK:
		fmt.Printf("%s = %v\n", pdu.Name, pdu.Value)
	case request.CodeNoSuchName:
		return fmt.Errorf("no such name: %s", oid)
	case request.CodeTimeout:
		return fmt.Errorf("timeout polling %s:%d", host, port)
	default:
		return fmt.Errorf("set rejected with code %v", code)
	}
	return nil
}

func parseSetValue(typ, text string) (transport.SetValue, error) {
	switch typ {
	case "i":
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return transport.SetValue{}, fmt.Errorf("value %q is not an integer: %w", text, err)
		}
		return transport.SetValue{Type: gosnmp.Integer, Value: int(n)}, nil
	case "u":
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return transport.SetValue{}, fmt.Errorf("value %q is not an unsigned integer: %w", text, err)
		}
		return transport.SetValue{Type: gosnmp.Gauge32, Value: uint32(n)}, nil
	case "c":
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return transport.SetValue{}, fmt.Errorf("value %q is not an unsigned integer: %w", text, err)
		}
		return transport.SetValue{Type: gosnmp.Counter32, Value: uint32(n)}, nil
	case "t":
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return transport.SetValue{}, fmt.Errorf("value %q is not an unsigned integer: %w", text, err)
		}
		return transport.SetValue{Type: gosnmp.TimeTicks, Value: uint32(n)}, nil
	case "s":
		return transport.SetValue{Type: gosnmp.OctetString, Value: text}, nil
	case "o":
		return transport.SetValue{Type: gosnmp.ObjectIdentifier, Value: text}, nil
	case "a":
		return transport.SetValue{Type: gosnmp.IPAddress, Value: text}, nil
	default:
		return transport.SetValue{}, fmt.Errorf("unknown value type %q", typ)
	}
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
