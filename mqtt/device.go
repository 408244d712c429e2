package mqtt

//go:generate go tool mockgen -source=device.go -destination=mock_device.go -package=mqtt

import (
	"context"

	"i4.energy/across/mqttgw/modem"
)

// Device is the command surface the session layer needs from the modem.
// *modem.Modem implements it.
type Device interface {
	Send(ctx context.Context, cmd string) (modem.Response, error)
	SendExpecting(ctx context.Context, cmd, keyword string) (modem.Response, error)
	WaitFor(ctx context.Context, keyword string) (modem.Response, error)
	SendData(ctx context.Context, payload []byte, keyword string) (modem.Response, error)
}

var _ Device = (*modem.Modem)(nil)
