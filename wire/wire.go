// Package wire implements the message endpoints the agent binds inside the
// container: a PULL socket for command frames, a PUSH socket for event
// frames, and a SUB/PUB pair for the pseudo-terminal side channel.
//
// Frames are two binary parts: a short ASCII tag and an opaque byte blob
// whose schema depends on the tag.
package wire

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Default endpoint addresses, bound inside the container.
const (
	CommandAddr = "tcp://*:2000"
	EventAddr   = "tcp://*:2001"
	TermInAddr  = "tcp://*:2002"
	TermOutAddr = "tcp://*:2003"
)

// Frame is a two-part message: an ASCII tag and a tag-dependent body.
type Frame struct {
	Tag  string
	Body []byte
}

// Puller receives command frames in arrival order.
type Puller struct {
	sock zmq4.Socket
}

// BindPull binds a PULL socket at addr. Binding must occur before the
// dispatcher reads.
func BindPull(ctx context.Context, addr string) (*Puller, error) {
	sock := zmq4.NewPull(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("binding pull socket at %s: %w", addr, err)
	}
	return &Puller{sock: sock}, nil
}

// Recv blocks until the next command frame arrives. Messages with fewer
// than two parts are rejected.
func (p *Puller) Recv() (Frame, error) {
	msg, err := p.sock.Recv()
	if err != nil {
		return Frame{}, err
	}
	if len(msg.Frames) < 2 {
		return Frame{}, fmt.Errorf("short command frame: %d parts", len(msg.Frames))
	}
	return Frame{
		Tag:  string(msg.Frames[0]),
		Body: msg.Frames[1],
	}, nil
}

func (p *Puller) Close() error {
	return p.sock.Close()
}

// Pusher sends event frames. Sends from concurrent producers are
// serialized; frames from a single producer stay in order.
type Pusher struct {
	mu   sync.Mutex
	sock zmq4.Socket
}

// BindPush binds a PUSH socket at addr.
func BindPush(ctx context.Context, addr string) (*Pusher, error) {
	sock := zmq4.NewPush(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("binding push socket at %s: %w", addr, err)
	}
	return &Pusher{sock: sock}, nil
}

// Send emits a single two-part event frame.
func (p *Pusher) Send(kind string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Send(zmq4.NewMsgFrom([]byte(kind), body))
}

func (p *Pusher) Close() error {
	return p.sock.Close()
}

// Subscriber receives raw byte frames for the PTY input channel. It
// subscribes to the full topic set.
type Subscriber struct {
	sock zmq4.Socket
}

func BindSub(ctx context.Context, addr string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("binding sub socket at %s: %w", addr, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("subscribing to all topics: %w", err)
	}
	return &Subscriber{sock: sock}, nil
}

// Recv returns the first part of the next message.
func (s *Subscriber) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	if len(msg.Frames) == 0 {
		return nil, nil
	}
	return msg.Frames[0], nil
}

func (s *Subscriber) Close() error {
	return s.sock.Close()
}

// Publisher sends raw byte frames on the PTY output channel.
type Publisher struct {
	mu   sync.Mutex
	sock zmq4.Socket
}

func BindPub(ctx context.Context, addr string) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("binding pub socket at %s: %w", addr, err)
	}
	return &Publisher{sock: sock}, nil
}

func (p *Publisher) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Send(zmq4.NewMsg(data))
}

func (p *Publisher) Close() error {
	return p.sock.Close()
}
