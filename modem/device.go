package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/mqttgw/at"
)

// output drops the echo of cmd from a response.
func output(resp Response, cmd string) []string {
	var lines []string
	for _, l := range resp.Lines {
		if l != cmd {
			lines = append(lines, l)
		}
	}
	return lines
}

// query sends cmd and returns its single line of output.
func (m *Modem) query(ctx context.Context, cmd string) (string, error) {
	resp, err := m.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	lines := output(resp, cmd)
	if len(lines) == 0 {
		return "", &at.ProtocolError{Line: resp.Text(), Reason: "no output for " + cmd}
	}
	return lines[0], nil
}

// queryPrefixed sends cmd and returns the first output line starting with
// prefix.
func (m *Modem) queryPrefixed(ctx context.Context, cmd, prefix string) (string, error) {
	resp, err := m.Send(ctx, cmd)
	if err != nil {
		return "", err
	}
	line, ok := resp.Line(prefix)
	if !ok {
		return "", &at.ProtocolError{Line: resp.Text(), Reason: "missing " + prefix}
	}
	return line, nil
}

// IsReady reports whether the modem answers AT. Both an empty answer and the
// bare echo count as ready.
func (m *Modem) IsReady(ctx context.Context) (bool, error) {
	resp, err := m.Send(ctx, at.CmdAt)
	if err != nil {
		return false, err
	}
	return len(output(resp, at.CmdAt)) == 0, nil
}

func (m *Modem) EchoOff(ctx context.Context) error {
	_, err := m.Send(ctx, at.CmdEchoOff)
	return err
}

// TurnOnMT enables the radio (full functionality).
func (m *Modem) TurnOnMT(ctx context.Context) error {
	_, err := m.Send(ctx, at.CmdFunctionOn)
	return err
}

// TurnOffMT disables the radio. Any output besides OK is reported as an
// error.
func (m *Modem) TurnOffMT(ctx context.Context) error {
	resp, err := m.Send(ctx, at.CmdFunctionOff)
	if err != nil {
		return err
	}
	if lines := output(resp, at.CmdFunctionOff); len(lines) > 0 {
		return fmt.Errorf("turn off radio: %s", strings.Join(lines, " "))
	}
	return nil
}

// IsMTOn reports whether the radio is on (+CFUN: 1).
func (m *Modem) IsMTOn(ctx context.Context) (bool, error) {
	resp, err := m.Send(ctx, at.CmdFunction)
	if err != nil {
		return false, err
	}
	line, ok := resp.Line("+CFUN:")
	return ok && line == "+CFUN: 1", nil
}

func (m *Modem) Model(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdModel)
}

func (m *Modem) IMSI(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdIMSI)
}

func (m *Modem) IMEI(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdIMEI)
}

// ICCID returns the SIM card identifier.
func (m *Modem) ICCID(ctx context.Context) (string, error) {
	line, err := m.query(ctx, at.CmdICCID)
	if err != nil {
		return "", err
	}
	if rest, ok := strings.CutPrefix(line, "+QCCID:"); ok {
		return strings.TrimSpace(rest), nil
	}
	return line, nil
}

// RSSI returns the signal strength indicator of +CSQ. The "unknown" value
// 99 is reported as 0.
func (m *Modem) RSSI(ctx context.Context) (int, error) {
	line, err := m.queryPrefixed(ctx, at.CmdSignal, "+CSQ:")
	if err != nil {
		return 0, err
	}
	v, err := at.Ints(line, "+CSQ:", 2)
	if err != nil {
		return 0, err
	}
	if v[0] == 99 {
		return 0, nil
	}
	return v[0], nil
}

// IsNetworkAttached reports whether the packet domain is attached.
func (m *Modem) IsNetworkAttached(ctx context.Context) (bool, error) {
	resp, err := m.Send(ctx, at.CmdAttached)
	if err != nil {
		return false, err
	}
	line, ok := resp.Line("+CGATT:")
	return ok && line == "+CGATT: 1", nil
}

// IPAddress returns the address of the first PDP context, or "" when none
// is assigned.
func (m *Modem) IPAddress(ctx context.Context) (string, error) {
	line, err := m.queryPrefixed(ctx, at.CmdAddress, "+CGPADDR:")
	if err != nil {
		return "", err
	}
	fields, err := at.Fields(line, "+CGPADDR:")
	if err != nil {
		return "", err
	}
	if len(fields) < 2 {
		return "", nil
	}
	return fields[len(fields)-1], nil
}

// NetworkTime returns the clock of the modem, as synchronised by the
// network.
func (m *Modem) NetworkTime(ctx context.Context) (time.Time, error) {
	line, err := m.queryPrefixed(ctx, at.CmdClock, "+CCLK:")
	if err != nil {
		return time.Time{}, err
	}
	return parseClock(line)
}

// parseClock decodes +CCLK: "yy/MM/dd,hh:mm:ss±zz" where zz counts quarter
// hours.
func parseClock(line string) (time.Time, error) {
	v := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "+CCLK:")), `"`)
	if len(v) < len("yy/MM/dd,hh:mm:ss") {
		return time.Time{}, &at.ProtocolError{Line: line, Reason: "short clock value"}
	}

	stamp, zone := v[:17], v[17:]
	t, err := time.Parse("06/01/02,15:04:05", stamp)
	if err != nil {
		return time.Time{}, &at.ProtocolError{Line: line, Reason: err.Error()}
	}
	if zone == "" {
		return t, nil
	}

	quarters, err := strconv.Atoi(zone)
	if err != nil {
		return time.Time{}, &at.ProtocolError{Line: line, Reason: "time zone: " + err.Error()}
	}
	offset := quarters * 15 * 60
	loc := time.FixedZone("", offset)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// LastError returns the last TCP/IP error reported by the modem.
func (m *Modem) LastError(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdLastError)
}

// MQTTState returns the MQTT connection state of session, or 0 when the
// session is not listed.
func (m *Modem) MQTTState(ctx context.Context, session int) (int, error) {
	resp, err := m.Send(ctx, at.CmdMQTTState)
	if err != nil {
		return 0, err
	}
	for _, l := range resp.Lines {
		if !strings.HasPrefix(l, at.RspMQTTConn) {
			continue
		}
		st, err := at.ParseConnState(l)
		if err != nil {
			return 0, err
		}
		if st.Session == session {
			return st.State, nil
		}
	}
	return 0, nil
}

func (m *Modem) IsMQTTConnected(ctx context.Context, session int) (bool, error) {
	state, err := m.MQTTState(ctx, session)
	return state == at.StateConnected, err
}
