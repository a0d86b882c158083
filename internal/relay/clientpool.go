package relay

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Client sends datagrams to one fixed endpoint over an unconnected socket.
// It is safe for concurrent use.
type Client struct {
	ep   Endpoint
	addr *net.UDPAddr
	conn *net.UDPConn
}

func newClient(ep Endpoint) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ep.IP, strconv.Itoa(ep.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrSend, ep, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open socket: %v", ErrSend, err)
	}
	return &Client{ep: ep, addr: addr, conn: conn}, nil
}

func (c *Client) Endpoint() Endpoint { return c.ep }

// Send transmits one message carrying value under topic. Delivery is not
// confirmed and nothing is retried.
func (c *Client) Send(topic string, value any) error {
	b, err := encode(topic, value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrSend, topic, err)
	}
	if _, err := c.conn.WriteToUDP(b, c.addr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSend, c.ep, err)
	}
	return nil
}

func (c *Client) Close() error { return c.conn.Close() }

// ClientPool caches one Client per endpoint. Entries live until Clear.
type ClientPool struct {
	mu      sync.Mutex
	clients map[Endpoint]*Client
	created atomic.Uint64

	onSize func(int)
}

func NewClientPool() *ClientPool {
	return &ClientPool{clients: map[Endpoint]*Client{}}
}

// OnSizeChange registers a callback invoked with the pool size after every
// insert or clear. Call it before the pool is shared.
func (p *ClientPool) OnSizeChange(fn func(int)) { p.onSize = fn }

// GetOrCreate returns the cached client for ip:port, creating it on first use.
// Creation happens under the pool lock so one endpoint never gets two clients.
func (p *ClientPool) GetOrCreate(ip string, port int) (*Client, error) {
	ep := Endpoint{IP: ip, Port: port}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[ep]; ok {
		return c, nil
	}
	c, err := newClient(ep)
	if err != nil {
		return nil, err
	}
	p.clients[ep] = c
	p.created.Add(1)
	if p.onSize != nil {
		p.onSize(len(p.clients))
	}
	return c, nil
}

// Len reports the number of cached clients.
func (p *ClientPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Created reports how many clients the pool has ever created.
func (p *ClientPool) Created() uint64 { return p.created.Load() }

// Endpoints lists cached endpoints in a stable order.
func (p *ClientPool) Endpoints() []Endpoint {
	p.mu.Lock()
	out := make([]Endpoint, 0, len(p.clients))
	for ep := range p.clients {
		out = append(out, ep)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Clear closes and forgets every client.
func (p *ClientPool) Clear() {
	p.mu.Lock()
	old := p.clients
	p.clients = map[Endpoint]*Client{}
	if p.onSize != nil {
		p.onSize(0)
	}
	p.mu.Unlock()

	for _, c := range old {
		_ = c.Close()
	}
}
