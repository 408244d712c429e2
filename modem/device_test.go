package modem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"i4.energy/across/mqttgw/at"
)

func TestDeviceQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("IsReady with echo", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT", "AT\r\n")

		ready, err := m.IsReady(shortContext(t, 100*time.Millisecond))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ready {
			t.Error("expected modem to be ready on bare echo")
		}
	})

	t.Run("IsReady on OK", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT", "OK\r\n")

		if ready, err := m.IsReady(ctx); err != nil || !ready {
			t.Errorf("IsReady() = %v, %v", ready, err)
		}
	})

	t.Run("IsReady on timeout", func(t *testing.T) {
		m, _ := startScripted(t, nil)

		ready, err := m.IsReady(shortContext(t, 50*time.Millisecond))
		if ready {
			t.Error("expected modem not to be ready")
		}
		if err == nil {
			t.Error("expected timeout error")
		}
	})

	t.Run("IsMTOn", func(t *testing.T) {
		for reply, want := range map[string]bool{
			"+CFUN: 1\r\nOK\r\n": true,
			"+CFUN: 0\r\nOK\r\n": false,
			"+CFUN: 4\r\nOK\r\n": false,
		} {
			m, tr := startScripted(t, nil)
			tr.Reply("AT+CFUN?", reply)

			on, err := m.IsMTOn(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if on != want {
				t.Errorf("IsMTOn() with %q = %v, want %v", reply, on, want)
			}
		}
	})

	t.Run("TurnOffMT fails on unexpected output", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CFUN=0", "+CPIN: NOT READY\r\nOK\r\n")

		if err := m.TurnOffMT(ctx); err == nil {
			t.Error("expected error on unexpected output")
		}
	})

	t.Run("TurnOnMT", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CFUN=1", "OK\r\n")

		if err := m.TurnOnMT(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Identification", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+GMM", "AT+GMM\r\nEC20F\r\nOK\r\n")
		tr.Reply("AT+CIMI", "460001234567890\r\nOK\r\n")
		tr.Reply("AT+GSN", "861234567890123\r\nOK\r\n")
		tr.Reply("AT+QCCID", "+QCCID: 89860012345678901234\r\nOK\r\n")

		for _, tc := range []struct {
			name  string
			query func(context.Context) (string, error)
			want  string
		}{
			{"Model", m.Model, "EC20F"},
			{"IMSI", m.IMSI, "460001234567890"},
			{"IMEI", m.IMEI, "861234567890123"},
			{"ICCID", m.ICCID, "89860012345678901234"},
		} {
			got, err := tc.query(ctx)
			if err != nil {
				t.Errorf("%s: unexpected error: %v", tc.name, err)
				continue
			}
			if got != tc.want {
				t.Errorf("%s = %q, want %q", tc.name, got, tc.want)
			}
		}
	})

	t.Run("Empty identification is a protocol error", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+GSN", "OK\r\n")

		_, err := m.IMEI(ctx)
		var perr *at.ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("expected ProtocolError, got: %v", err)
		}
	})

	t.Run("RSSI", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CSQ", "+CSQ: 23,99\r\nOK\r\n")
		tr.Reply("AT+CSQ", "+CSQ: 99,99\r\nOK\r\n")

		if rssi, err := m.RSSI(ctx); err != nil || rssi != 23 {
			t.Errorf("RSSI() = %d, %v, want 23", rssi, err)
		}
		if rssi, err := m.RSSI(ctx); err != nil || rssi != 0 {
			t.Errorf("RSSI() = %d, %v, want 0 for unknown signal", rssi, err)
		}
	})

	t.Run("IsNetworkAttached", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CGATT?", "+CGATT: 1\r\nOK\r\n")

		if attached, err := m.IsNetworkAttached(ctx); err != nil || !attached {
			t.Errorf("IsNetworkAttached() = %v, %v", attached, err)
		}
	})

	t.Run("IPAddress", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CGPADDR=1", "+CGPADDR: 1,\"10.64.12.7\"\r\nOK\r\n")
		tr.Reply("AT+CGPADDR=1", "+CGPADDR: 1\r\nOK\r\n")

		if ip, err := m.IPAddress(ctx); err != nil || ip != "10.64.12.7" {
			t.Errorf("IPAddress() = %q, %v", ip, err)
		}
		if ip, err := m.IPAddress(ctx); err != nil || ip != "" {
			t.Errorf("IPAddress() without address = %q, %v", ip, err)
		}
	})

	t.Run("NetworkTime", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+CCLK?", "+CCLK: \"24/05/01,12:30:45+32\"\r\nOK\r\n")

		got, err := m.NetworkTime(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2024, 5, 1, 4, 30, 45, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("NetworkTime() = %v, want %v", got, want)
		}
	})

	t.Run("LastError", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+QIGETERROR", "+QIGETERROR: 0,operation successful\r\nOK\r\n")

		if e, err := m.LastError(ctx); err != nil || e != "+QIGETERROR: 0,operation successful" {
			t.Errorf("LastError() = %q, %v", e, err)
		}
	})

	t.Run("IsMQTTConnected", func(t *testing.T) {
		m, tr := startScripted(t, nil)
		tr.Reply("AT+QMTCONN?", "+QMTCONN: 0,3\r\n+QMTCONN: 1,1\r\nOK\r\n")
		tr.Reply("AT+QMTCONN?", "+QMTCONN: 0,3\r\n+QMTCONN: 1,1\r\nOK\r\n")
		tr.Reply("AT+QMTCONN?", "OK\r\n")

		if ok, err := m.IsMQTTConnected(ctx, 0); err != nil || !ok {
			t.Errorf("session 0: IsMQTTConnected() = %v, %v", ok, err)
		}
		if ok, err := m.IsMQTTConnected(ctx, 1); err != nil || ok {
			t.Errorf("session 1: IsMQTTConnected() = %v, %v", ok, err)
		}
		if state, err := m.MQTTState(ctx, 0); err != nil || state != 0 {
			t.Errorf("no sessions: MQTTState() = %d, %v", state, err)
		}
	})
}
