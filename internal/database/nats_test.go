package database

import (
	"errors"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNewNATSConn_ConnectError(t *testing.T) {
	orig := natsConnect
	t.Cleanup(func() { natsConnect = orig })

	connErr := errors.New("no servers")
	var gotURL string
	var optCount int
	natsConnect = func(url string, options ...nats.Option) (*nats.Conn, error) {
		gotURL = url
		optCount = len(options)
		return nil, connErr
	}

	_, err := NewNATSConn("nats://bus:4222", nil)
	if !errors.Is(err, connErr) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
	if !strings.Contains(err.Error(), "connecting to nats") {
		t.Fatalf("expected context in error, got %q", err.Error())
	}
	if gotURL != "nats://bus:4222" {
		t.Fatalf("unexpected url %q", gotURL)
	}
	if optCount == 0 {
		t.Fatal("expected connection options")
	}
}

func TestNATSConn_HealthWithoutConn(t *testing.T) {
	n := &NATSConn{}
	if err := n.Health(); err == nil {
		t.Fatal("expected health error without a connection")
	}
	n.Close()
}
