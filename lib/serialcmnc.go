package opm500

import (
	"log"
	"time"

	"go.bug.st/serial"
)

// communication abstracts the serial link to the instrument.
type communication interface {
	Open(debug bool) error
	IsOpen() bool
	IsDebug() bool
	Read(buffer []byte) (int, error)
	Write(s string) (int, error)
	Close() error
}

// serialCmnc - serial port communication implementation.
type serialCmnc struct {
	name  string
	port  serial.Port
	debug bool
}

func (c *serialCmnc) IsDebug() bool {
	return c.debug
}

func (c *serialCmnc) IsOpen() bool {
	return c.port != nil
}

func (c *serialCmnc) Open(debug bool) error {
	c.debug = debug
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.name, mode)
	if err != nil {
		if c.debug {
			log.Println(err)
		}
		return err
	}
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		port.Close()
		return err
	}
	port.ResetInputBuffer()
	port.ResetOutputBuffer()
	c.port = port
	return nil
}

func (c *serialCmnc) Read(buffer []byte) (i int, e error) {
	i, e = c.port.Read(buffer)
	if c.debug {
		if e != nil {
			log.Printf("read %v", e)
		} else if i > 0 {
			log.Printf("read %q\n", buffer[:i])
		}
	}
	return
}

// Write discards any stale input before sending. The protocol is strictly
// half-duplex, so whatever is still buffered belongs to an abandoned
// exchange.
func (c *serialCmnc) Write(s string) (i int, e error) {
	c.port.ResetInputBuffer()
	i, e = c.port.Write([]byte(s))
	if c.debug {
		if e != nil {
			log.Printf("write %v", e)
		} else {
			log.Printf("write %q\n", s)
		}
	}
	return
}

func (c *serialCmnc) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
