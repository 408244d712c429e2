package modem_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"

	"i4.energy/across/mqttgw/modem"
)

func TestSerialDialer(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	var noContext context.Context

	tests := []struct {
		name    string
		dialer  modem.SerialDialer
		ctx     context.Context
		wantIs  error
		wantMsg string
	}{
		{
			name:   "No port name",
			dialer: modem.SerialDialer{BaudRate: 9600},
			ctx:    context.Background(),
			wantIs: modem.ErrNoPortName,
		},
		{
			name:    "No context",
			dialer:  modem.SerialDialer{PortName: "/dev/ttyUSB2"},
			ctx:     noContext,
			wantMsg: "modem: context is nil",
		},
		{
			name:   "Canceled before opening",
			dialer: modem.SerialDialer{PortName: "/dev/mqttgw-missing"},
			ctx:    canceled,
			wantIs: context.Canceled,
		},
		{
			name: "Explicit mode on a missing port",
			dialer: modem.SerialDialer{
				PortName: "/dev/mqttgw-missing",
				Mode:     &serial.Mode{BaudRate: 57600, DataBits: 8},
			},
			ctx:     context.Background(),
			wantMsg: "modem: open serial port /dev/mqttgw-missing",
		},
		{
			name: "Default mode on a missing port",
			dialer: modem.SerialDialer{
				PortName:    "/dev/mqttgw-missing",
				ReadTimeout: 10 * time.Millisecond,
			},
			ctx:     context.Background(),
			wantMsg: "modem: open serial port /dev/mqttgw-missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)
			if err == nil {
				transport.Close()
				t.Fatal("expected Dial to fail")
			}
			if transport != nil {
				t.Error("expected nil transport on error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got: %v", tt.wantIs, err)
			}
			if tt.wantMsg != "" && !strings.HasPrefix(err.Error(), tt.wantMsg) {
				t.Errorf("expected error starting with %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestNewWithSerialDialer(t *testing.T) {
	config, err := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{PortName: "/dev/mqttgw-missing"}).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err == nil {
		m.Close()
		t.Fatal("expected New to fail on a missing port")
	}
	if !strings.Contains(err.Error(), "dial modem: modem: open serial port /dev/mqttgw-missing") {
		t.Errorf("unexpected error: %v", err)
	}
}
