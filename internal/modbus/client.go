package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var ErrNotConnected = errors.New("not connected")

type Client struct {
	address       string
	unitID        uint8
	timeout       time.Duration
	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
}

func NewClient(address string, unitID uint8, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Client{
		address: address,
		unitID:  unitID,
		timeout: timeout,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", c.address, err)
	}
	c.conn = conn

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendFrame writes a request and reads the matching response. Any transport
// error drops the connection so the next call can reconnect.
func (c *Client) SendFrame(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, mbapLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapLen+length-1 > maxADULen {
		c.closeLocked()
		return nil, fmt.Errorf("invalid response length %d", length)
	}

	buf := make([]byte, mbapLen+length-1)
	copy(buf, header)
	if _, err := io.ReadFull(c.conn, buf[mbapLen:]); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(buf)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		c.closeLocked()
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}

	return response, nil
}

func (c *Client) readBits(ctx context.Context, functionCode uint8, startAddr, quantity uint16) ([]bool, error) {
	if quantity == 0 || quantity > maxReadBits {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}
	response, err := c.SendFrame(ctx, ReadBitsRequest(functionCode, c.unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}
	return response.ParseBitsResponse(quantity)
}

func (c *Client) ReadDiscreteInputs(ctx context.Context, startAddr, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncCodeReadDiscreteInputs, startAddr, quantity)
}

func (c *Client) ReadCoils(ctx context.Context, startAddr, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncCodeReadCoils, startAddr, quantity)
}

func (c *Client) WriteSingleCoil(ctx context.Context, addr uint16, on bool) error {
	response, err := c.SendFrame(ctx, WriteSingleCoilRequest(c.unitID, addr, on))
	if err != nil {
		return err
	}
	return response.Exception()
}
