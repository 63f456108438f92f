//go:build rp2040 || rp2350

package logx

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// UseUART points log output at a hardware UART on rp2 dev boards (the
// bench setup used while bringing drivers up against real transceivers).
// id is 0 or 1; tx/rx are pin numbers.
func UseUART(id int, baud uint32, tx, rx int, lvl Level) error {
	hw := uartx.UART0
	if id == 1 {
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: baud,
		TX:       machine.Pin(tx),
		RX:       machine.Pin(rx),
	}); err != nil {
		return err
	}
	SetOutput(hw, lvl)
	return nil
}
