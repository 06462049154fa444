package resolver

import (
	"context"
	"net"
	"testing"
	"time"
)

// TestZeroAddressesReportedAsTimeout exercises the lookup hook directly
// (white-box) since it is the simplest way to force the zero-address branch
// without depending on real DNS behaviour.
func TestZeroAddressesReportedAsTimeout(t *testing.T) {
	r := New(4)
	r.lookup = func(ctx context.Context, hostname string) ([]net.IP, error) {
		return nil, nil
	}
	r.Start()
	defer r.Stop()

	r.Queue(Job{Ref: "x", Hostname: "switch.example", Port: 161})
	select {
	case res := <-r.Results():
		if res.Err != ErrTimeout {
			t.Fatalf("got err %v, want ErrTimeout", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}
