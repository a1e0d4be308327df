// Package stomptest provides an in-process STOMP broker over WebSocket for tests.
package stomptest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"forum-client/internal/stomp"
)

// Broker accepts STOMP sessions, records client frames, acknowledges receipts and fans
// published messages out to subscribers.
type Broker struct {
	Server *httptest.Server
	// URL is the ws:// endpoint.
	URL string

	mu       sync.Mutex
	conns    []*brokerConn
	received []*frame.Frame
	connects []map[string]string
	seq      int

	// RejectConnect, when set, answers CONNECT with an ERROR carrying this message.
	RejectConnect string
	// FailSend reports whether a SEND to dest is answered with ERROR instead of RECEIPT.
	FailSend func(dest string) bool
	// HoldReceipts suppresses RECEIPT frames so senders time out.
	HoldReceipts bool
	// OnSend is called for every SEND after it is recorded.
	OnSend func(f *frame.Frame)
}

type brokerConn struct {
	ws   *websocket.Conn
	wmu  sync.Mutex
	subs map[string]string // subscription id -> destination
}

func (c *brokerConn) write(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{"v12.stomp"},
}

// NewBroker starts a broker. Call Close when done.
func NewBroker() *Broker {
	b := &Broker{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	b.URL = "ws" + strings.TrimPrefix(b.Server.URL, "http")
	return b
}

// Close drops all sessions and stops the server.
func (b *Broker) Close() {
	b.DropConnections()
	b.Server.Close()
}

// DropConnections closes every live socket without a STOMP goodbye.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// Publish sends a MESSAGE with body to every subscriber of dest and returns how many got it.
func (b *Broker) Publish(dest string, body []byte) int {
	b.mu.Lock()
	type target struct {
		c  *brokerConn
		id string
	}
	var targets []target
	for _, c := range b.conns {
		for id, d := range c.subs {
			if d == dest {
				targets = append(targets, target{c, id})
			}
		}
	}
	b.seq++
	msgID := strconv.Itoa(b.seq)
	b.mu.Unlock()

	n := 0
	for _, t := range targets {
		f := frame.New(frame.MESSAGE,
			frame.Destination, dest,
			frame.Subscription, t.id,
			frame.MessageId, msgID,
			frame.ContentType, "application/json")
		f.Body = body
		if t.c.write(f) == nil {
			n++
		}
	}
	return n
}

// Received returns the client frames with the given command, in arrival order.
func (b *Broker) Received(command string) []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*frame.Frame
	for _, f := range b.received {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// SentTo returns the bodies of SEND frames addressed to dest.
func (b *Broker) SentTo(dest string) []string {
	var out []string
	for _, f := range b.Received(frame.SEND) {
		if f.Header.Get(frame.Destination) == dest {
			out = append(out, string(f.Body))
		}
	}
	return out
}

// ConnectHeaders returns the headers of every CONNECT frame seen.
func (b *Broker) ConnectHeaders() []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.connects...)
}

// Subscribers returns how many live subscriptions exist for dest.
func (b *Broker) Subscribers(dest string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		for _, d := range c.subs {
			if d == dest {
				n++
			}
		}
	}
	return n
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *Broker) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &brokerConn{ws: ws, subs: map[string]string{}}
	defer func() {
		ws.Close()
		b.mu.Lock()
		for i, other := range b.conns {
			if other == c {
				b.conns = append(b.conns[:i], b.conns[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := stomp.Decode(data)
		if err != nil {
			continue
		}
		if !b.handle(c, f) {
			return
		}
	}
}

// handle processes one client frame; false ends the session.
func (b *Broker) handle(c *brokerConn, f *frame.Frame) bool {
	b.mu.Lock()
	b.received = append(b.received, f)
	reject := b.RejectConnect
	failSend := b.FailSend
	hold := b.HoldReceipts
	onSend := b.OnSend
	b.mu.Unlock()

	switch f.Command {
	case frame.CONNECT, "STOMP":
		b.mu.Lock()
		b.connects = append(b.connects, headerMap(f.Header))
		b.mu.Unlock()
		if reject != "" {
			c.write(frame.New(frame.ERROR, frame.Message, reject))
			return false
		}
		b.mu.Lock()
		b.conns = append(b.conns, c)
		b.mu.Unlock()
		return c.write(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, "0,0")) == nil
	case frame.SUBSCRIBE:
		b.mu.Lock()
		c.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
		b.mu.Unlock()
	case frame.UNSUBSCRIBE:
		b.mu.Lock()
		delete(c.subs, f.Header.Get(frame.Id))
		b.mu.Unlock()
	case frame.SEND:
		if onSend != nil {
			onSend(f)
		}
		receipt := f.Header.Get(frame.Receipt)
		if failSend != nil && failSend(f.Header.Get(frame.Destination)) {
			errFrame := frame.New(frame.ERROR, frame.Message, "send rejected")
			if receipt != "" {
				errFrame.Header.Set(frame.ReceiptId, receipt)
			}
			c.write(errFrame)
			return false
		}
		if receipt != "" && !hold {
			return c.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt)) == nil
		}
	case frame.DISCONNECT:
		if receipt := f.Header.Get(frame.Receipt); receipt != "" {
			c.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false
	}
	return true
}

// headerMap flattens h, keeping the first value of a repeated key.
func headerMap(h *frame.Header) map[string]string {
	out := make(map[string]string, h.Len())
	for i := 0; i < h.Len(); i++ {
		k, v := h.GetAt(i)
		if _, seen := out[k]; !seen {
			out[k] = v
		}
	}
	return out
}
