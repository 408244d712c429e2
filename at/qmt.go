package at

import (
	"fmt"
	"strconv"
	"strings"
)

// Publish delivery status reported in +QMTPUBEX.
const (
	PublishSent       = 0
	PublishRetransmit = 1
	PublishFailed     = 2
)

// MQTT connection states reported by AT+QMTCONN?.
const (
	StateInitializing  = 1
	StateConnecting    = 2
	StateConnected     = 3
	StateDisconnecting = 4
)

func quote(s string) string {
	return `"` + s + `"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ConfigRecvMode selects how received publishes are reported. With Buffered
// false the payload is carried inline in +QMTRECV.
type ConfigRecvMode struct {
	Session    int
	Buffered   bool
	WithLength bool
}

func (c ConfigRecvMode) String() string {
	return fmt.Sprintf(`AT+QMTCFG="recv/mode",%d,%d,%d`, c.Session, boolInt(c.Buffered), boolInt(c.WithLength))
}

// ConfigWill sets the last will of a session.
type ConfigWill struct {
	Session int
	QoS     int
	Retain  bool
	Topic   string
	Message string
}

func (c ConfigWill) String() string {
	return fmt.Sprintf(`AT+QMTCFG="will",%d,1,%d,%d,%s,%s`,
		c.Session, c.QoS, boolInt(c.Retain), quote(c.Topic), quote(c.Message))
}

// ConfigSession sets the clean session flag.
type ConfigSession struct {
	Session int
	Clean   bool
}

func (c ConfigSession) String() string {
	return fmt.Sprintf(`AT+QMTCFG="session",%d,%d`, c.Session, boolInt(c.Clean))
}

// ConfigKeepAlive sets the keep-alive interval in seconds.
type ConfigKeepAlive struct {
	Session int
	Seconds int
}

func (c ConfigKeepAlive) String() string {
	return fmt.Sprintf(`AT+QMTCFG="keepalive",%d,%d`, c.Session, c.Seconds)
}

// ConfigAliAuth configures Alibaba Cloud device authentication.
type ConfigAliAuth struct {
	Session      int
	ProductKey   string
	DeviceName   string
	DeviceSecret string
}

func (c ConfigAliAuth) String() string {
	return fmt.Sprintf(`AT+QMTCFG="aliauth",%d,%s,%s,%s`,
		c.Session, quote(c.ProductKey), quote(c.DeviceName), quote(c.DeviceSecret))
}

// Open opens the network connection of a session to the broker.
type Open struct {
	Session int
	Host    string
	Port    int
}

func (c Open) String() string {
	return fmt.Sprintf("AT+QMTOPEN=%d,%s,%d", c.Session, quote(c.Host), c.Port)
}

// Connect logs the client on the broker. Credentials are sent only when
// both are set.
type Connect struct {
	Session  int
	ClientID string
	Username string
	Password string
}

func (c Connect) String() string {
	cmd := fmt.Sprintf("AT+QMTCONN=%d,%s", c.Session, quote(c.ClientID))
	if c.Username != "" && c.Password != "" {
		cmd += "," + quote(c.Username) + "," + quote(c.Password)
	}
	return cmd
}

// Disconnect disconnects the client from the broker.
type Disconnect struct {
	Session int
}

func (c Disconnect) String() string {
	return fmt.Sprintf("AT+QMTDISC=%d", c.Session)
}

// Close closes the network connection of a session.
type Close struct {
	Session int
}

func (c Close) String() string {
	return fmt.Sprintf("AT+QMTCLOSE=%d", c.Session)
}

// Subscribe subscribes to one or more topics with the same QoS.
type Subscribe struct {
	Session int
	MsgID   int
	QoS     int
	Topics  []string
}

func (c Subscribe) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "AT+QMTSUB=%d,%d", c.Session, c.MsgID)
	for _, t := range c.Topics {
		fmt.Fprintf(&b, ",%s,%d", quote(t), c.QoS)
	}
	return b.String()
}

// Unsubscribe removes subscriptions.
type Unsubscribe struct {
	Session int
	MsgID   int
	Topics  []string
}

func (c Unsubscribe) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "AT+QMTUNS=%d,%d", c.Session, c.MsgID)
	for _, t := range c.Topics {
		b.WriteString("," + quote(t))
	}
	return b.String()
}

// Publish announces a publish of Length bytes; the modem answers with the
// data prompt and the payload is written next.
type Publish struct {
	Session int
	MsgID   int
	QoS     int
	Retain  bool
	Topic   string
	Length  int
}

func (c Publish) String() string {
	return fmt.Sprintf("AT+QMTPUBEX=%d,%d,%d,%d,%s,%d",
		c.Session, c.MsgID, c.QoS, boolInt(c.Retain), quote(c.Topic), c.Length)
}

// Receive fetches a publish the modem buffered after a short +QMTRECV notice.
type Receive struct {
	Session int
	MsgID   int
}

func (c Receive) String() string {
	return fmt.Sprintf("AT+QMTRECV=%d,%d", c.Session, c.MsgID)
}

// Fields returns the comma separated fields following prefix in line.
// Commas inside double quotes do not split, and surrounding quotes and
// blanks are removed from every field.
func Fields(line, prefix string) ([]string, error) {
	i := strings.Index(line, prefix)
	if i < 0 {
		return nil, &ProtocolError{Line: line, Reason: "missing " + prefix}
	}
	rest := strings.TrimSpace(line[i+len(prefix):])
	if rest == "" {
		return nil, &ProtocolError{Line: line, Reason: "no fields"}
	}

	var (
		fields  []string
		field   strings.Builder
		inQuote bool
	)
	for _, r := range rest {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(field.String()))
	return fields, nil
}

// Ints parses the first n fields of line as integers.
func Ints(line, prefix string, n int) ([]int, error) {
	fields, err := Fields(line, prefix)
	if err != nil {
		return nil, err
	}
	if len(fields) < n {
		return nil, &ProtocolError{Line: line, Reason: fmt.Sprintf("want %d fields, got %d", n, len(fields))}
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, &ProtocolError{Line: line, Reason: fmt.Sprintf("field %d: %v", i, err)}
		}
		out[i] = v
	}
	return out, nil
}

// LastInt returns the last field of line as an integer. Result codes of
// +QMTOPEN and +QMTCONN are reported this way.
func LastInt(line, prefix string) (int, error) {
	fields, err := Fields(line, prefix)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, &ProtocolError{Line: line, Reason: "result code: " + err.Error()}
	}
	return v, nil
}

// StateEvent is the +QMTSTAT link state notification.
type StateEvent struct {
	Session   int
	ErrorCode int
}

// ParseStateEvent decodes "+QMTSTAT: <session>,<err>".
func ParseStateEvent(line string) (StateEvent, error) {
	v, err := Ints(line, UrcMQTTState, 2)
	if err != nil {
		return StateEvent{}, err
	}
	return StateEvent{Session: v[0], ErrorCode: v[1]}, nil
}

// RecvEvent is the +QMTRECV notification. When Inline is false the payload
// is buffered on the modem and must be fetched with Receive.
type RecvEvent struct {
	Session int
	MsgID   int
	Topic   string
	Length  int
	Payload string
	Inline  bool
}

// ParseRecvEvent decodes either form of +QMTRECV:
//
//	+QMTRECV: <session>,<msgid>,"<topic>",<length>,"<payload>"
//	+QMTRECV: <session>,<msgid>
//
// The payload is taken verbatim from the rest of the line, so it may hold
// quotes and commas. Its enclosing quotes are removed when the remainder
// matches the announced length.
func ParseRecvEvent(line string) (RecvEvent, error) {
	v, err := Ints(line, UrcMQTTRecv, 2)
	if err != nil {
		return RecvEvent{}, err
	}
	ev := RecvEvent{Session: v[0], MsgID: v[1]}

	head, rest, ok := cutFields(line, UrcMQTTRecv, 4)
	if !ok {
		return ev, nil
	}
	ev.Inline = true
	ev.Topic = head[2]
	if ev.Length, err = strconv.Atoi(head[3]); err != nil {
		return RecvEvent{}, &ProtocolError{Line: line, Reason: "length: " + err.Error()}
	}
	ev.Payload = unquotePayload(rest, ev.Length)
	return ev, nil
}

// cutFields splits the first n fields after prefix from the raw remainder
// of line. It reports false when line has no more than n fields.
func cutFields(line, prefix string, n int) ([]string, string, bool) {
	i := strings.Index(line, prefix)
	if i < 0 {
		return nil, "", false
	}
	start := i + len(prefix)

	inQuote := false
	count := 0
	for j := start; j < len(line); j++ {
		switch {
		case line[j] == '"':
			inQuote = !inQuote
		case line[j] == ',' && !inQuote:
			count++
			if count < n {
				continue
			}
			head, err := Fields(line[:j], prefix)
			if err != nil {
				return nil, "", false
			}
			return head, line[j+1:], true
		}
	}
	return nil, "", false
}

func unquotePayload(raw string, length int) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' && len(raw)-2 == length {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// PublishResult is the +QMTPUBEX delivery status.
type PublishResult struct {
	Session int
	MsgID   int
	Status  int
}

// ParsePublishResult decodes "+QMTPUBEX: <session>,<msgid>,<status>[,<count>]".
func ParsePublishResult(line string) (PublishResult, error) {
	v, err := Ints(line, RspMQTTPublish, 3)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Session: v[0], MsgID: v[1], Status: v[2]}, nil
}

// AckResult is the +QMTSUB / +QMTUNS acknowledgement.
type AckResult struct {
	Session int
	MsgID   int
	Result  int
}

// ParseAckResult decodes "<prefix> <session>,<msgid>,<result>[,<value>]".
func ParseAckResult(line, prefix string) (AckResult, error) {
	v, err := Ints(line, prefix, 3)
	if err != nil {
		return AckResult{}, err
	}
	return AckResult{Session: v[0], MsgID: v[1], Result: v[2]}, nil
}

// ConnState is one line of the AT+QMTCONN? answer.
type ConnState struct {
	Session int
	State   int
}

// ParseConnState decodes "+QMTCONN: <session>,<state>".
func ParseConnState(line string) (ConnState, error) {
	v, err := Ints(line, RspMQTTConn, 2)
	if err != nil {
		return ConnState{}, err
	}
	return ConnState{Session: v[0], State: v[1]}, nil
}
