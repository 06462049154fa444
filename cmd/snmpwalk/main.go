// Command snmpwalk performs an iterative GetNext walk against a target
// host's MIB subtree, using the blocking sync engine and, optionally, the
// same value-match rules the query state machine uses to locate rows —
// handy for figuring out a query_match value interactively before writing
// it into a poll group definition.
//
// Usage:
//
//	snmpwalk -host HOST [-match TEXT] ROOT-OID
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/tillwatch/snmppoll/engine/request"
	"github.com/tillwatch/snmppoll/engine/sync"
	"github.com/tillwatch/snmppoll/engine/transport"
	"github.com/tillwatch/snmppoll/match"
	"github.com/tillwatch/snmppoll/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "snmpwalk: %v\n", err)
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
		matchText string
		maxRows   int
	)
	flag.StringVar(&host, "host", "", "target hostname or IP (required)")
	flag.IntVar(&port, "port", 161, "target UDP port")
	flag.StringVar(&community, "community", "public", "SNMP community string")
	flag.StringVar(&version, "version", "2c", "SNMP version: 1 or 2c")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "per-request timeout")
	flag.StringVar(&matchText, "match", "", "only print rows whose value matches this text (spec query_match rule)")
	flag.IntVar(&maxRows, "max", 1000, "stop after this many rows even if the subtree continues")
	flag.Parse()

	if host == "" || flag.NArg() != 1 {
		return fmt.Errorf("usage: snmpwalk -host HOST [-match TEXT] ROOT-OID")
	}
	root := normalizeOID(flag.Arg(0))

	ver, err := parseVersion(version)
	if err != nil {
		return err
	}

	e := sync.New(slog.New(slog.DiscardHandler))
	defer e.Close()

	key := models.HostKey{Hostname: host, Port: uint16(port), Community: community, Version: ver}

	var text *string
	if matchText != "" {
		text = &matchText
	}

	current := root
	for i := 0; i < maxRows; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout+3*time.Second)
		code, pdu, err := e.Request(ctx, key, timeout, timeout, transport.OpGetNext, current)
		cancel()
		if err != nil {
			return err
		}
		if code == request.CodeTimeout {
			return fmt.Errorf("timeout walking %s:%d at %s", host, port, current)
		}
		if code == request.CodeNoSuchName {
			break // end of subtree or end of MIB view
		}

		next := normalizeOID(pdu.Name)
		if !strings.HasPrefix(next, root+".") && next != root {
			break // walked past the requested subtree
		}

		if text == nil || match.Value(pdu.Type, pdu.Value, text) {
			fmt.Printf("%s = %s\n", next, formatValue(pdu))
		}

		current = next
	}
	return nil
}

func normalizeOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// formatValue renders any varbind value for display: numeric syntaxes via
// the engine's normalized sample, strings as text, the rest as-is. Name
// columns like ifDescr are OctetStrings, so a walk must print non-numeric
// rows too.
func formatValue(pdu gosnmp.SnmpPDU) string {
	if sample, ok := transport.SampleOf(pdu.Type, pdu.Value); ok {
		return sample.String()
	}
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
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
