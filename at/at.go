package at

const (
	// Terminal Control
	CR     = '\r'
	LF     = '\n'
	CRLF   = "\r\n"
	Prompt = ">"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcMQTTState = "+QMTSTAT:"
	UrcMQTTRecv  = "+QMTRECV:"

	// Command responses carrying a result code
	RspMQTTOpen    = "+QMTOPEN:"
	RspMQTTConn    = "+QMTCONN:"
	RspMQTTDisc    = "+QMTDISC:"
	RspMQTTClose   = "+QMTCLOSE:"
	RspMQTTSub     = "+QMTSUB:"
	RspMQTTUnsub   = "+QMTUNS:"
	RspMQTTPublish = "+QMTPUBEX:"
)

// Basic commands
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdFunctionOn  = "AT+CFUN=1"
	CmdFunctionOff = "AT+CFUN=0"
	CmdFunction    = "AT+CFUN?"
	CmdModel       = "AT+GMM"
	CmdIMSI        = "AT+CIMI"
	CmdIMEI        = "AT+GSN"
	CmdICCID       = "AT+QCCID"
	CmdSignal      = "AT+CSQ"
	CmdAttached    = "AT+CGATT?"
	CmdAddress     = "AT+CGPADDR=1"
	CmdClock       = "AT+CCLK?"
	CmdLastError   = "AT+QIGETERROR"
	CmdMQTTState   = "AT+QMTCONN?"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK
	TypeError                      // ERROR, +CME ERROR, +CMS ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // Data input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeError:
		return "error"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
