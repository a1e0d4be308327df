package stomp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"forum-client/internal/logging"
)

const (
	// Time allowed to write a frame to the broker.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong or frame from the broker.
	pongWait = 60 * time.Second

	// Send pings to the broker with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the broker.
	maxMessageSize = 1 << 20

	// Subscription buffer; a slow consumer drops the connection instead of blocking the reader.
	subscriptionBuffer = 64
)

var (
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("stomp: connection closed")
	// ErrSlowConsumer closes the connection when a subscription buffer overflows.
	ErrSlowConsumer = errors.New("stomp: subscription buffer full")
)

// ServerError is an ERROR frame from the broker.
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp: server error: %s: %s", e.Message, e.Body)
	}
	return "stomp: server error: " + e.Message
}

// DialOptions configures Dial.
type DialOptions struct {
	// Header is sent on CONNECT (e.g. Authorization).
	Header map[string]string
	// Host is the virtual host; defaults to the URL host.
	Host string
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Conn is a STOMP session over one WebSocket. It is safe for concurrent use.
type Conn struct {
	ws   *websocket.Conn
	log  *zap.Logger
	send chan []byte

	mu       sync.Mutex
	subs     map[string]*Subscription
	receipts map[string]chan error
	err      error

	done      chan struct{}
	closeOnce sync.Once
	version   string
}

// Subscription delivers MESSAGE frames for one destination.
type Subscription struct {
	ID          string
	Destination string
	C           <-chan *frame.Frame

	ch   chan *frame.Frame
	conn *Conn
}

// Dial opens the WebSocket, performs the CONNECT handshake and starts the pumps.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	hdr := http.Header{}
	hdr.Set("Sec-WebSocket-Protocol", "v12.stomp")
	ws, resp, err := dialer.DialContext(ctx, rawURL, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stomp: dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("stomp: dial %s: %w", rawURL, err)
	}

	host := opts.Host
	if host == "" {
		if u, err := url.Parse(rawURL); err == nil {
			host = u.Hostname()
		}
	}
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, host,
		frame.HeartBeat, "0,0",
	)
	for k, v := range opts.Header {
		connect.Header.Set(k, v)
	}
	data, err := Encode(connect)
	if err != nil {
		ws.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.Close()
		return nil, fmt.Errorf("stomp: send CONNECT: %w", err)
	}
	reply, err := readFrame(ws)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("stomp: await CONNECTED: %w", err)
	}
	switch reply.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		ws.Close()
		return nil, &ServerError{Message: reply.Header.Get(frame.Message), Body: string(reply.Body)}
	default:
		ws.Close()
		return nil, fmt.Errorf("%w: expected CONNECTED, got %s", ErrMalformed, reply.Command)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	c := &Conn{
		ws:       ws,
		log:      logging.OrNop(opts.Logger).Named("stomp"),
		send:     make(chan []byte, 64),
		subs:     make(map[string]*Subscription),
		receipts: make(map[string]chan error),
		done:     make(chan struct{}),
		version:  reply.Header.Get(frame.Version),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// readFrame reads messages until a non-heartbeat frame arrives.
func readFrame(ws *websocket.Conn) (*frame.Frame, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := Decode(data)
		if errors.Is(err, ErrHeartbeat) {
			continue
		}
		return f, err
	}
}

// Version returns the protocol version negotiated in CONNECTED.
func (c *Conn) Version() string { return c.version }

// Done is closed when the connection ends for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe starts delivery of MESSAGE frames for dest.
func (c *Conn) Subscribe(dest string) (*Subscription, error) {
	ch := make(chan *frame.Frame, subscriptionBuffer)
	sub := &Subscription{ID: "sub-" + uuid.NewString(), Destination: dest, C: ch, ch: ch, conn: c}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if err := c.write(frame.New(frame.SUBSCRIBE, frame.Id, sub.ID, frame.Destination, dest)); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe stops delivery. C is closed.
func (s *Subscription) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	_, ok := c.subs[s.ID]
	delete(c.subs, s.ID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	close(s.ch)
	return c.write(frame.New(frame.UNSUBSCRIBE, frame.Id, s.ID))
}

// Send publishes body to dest and waits for the broker's RECEIPT.
func (c *Conn) Send(ctx context.Context, dest, contentType string, body []byte) error {
	id := uuid.NewString()
	ack := make(chan error, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.receipts[id] = ack
	c.mu.Unlock()

	f := sendFrame(dest, contentType, body)
	f.Header.Set(frame.Receipt, id)
	if err := c.write(f); err != nil {
		c.dropReceipt(id)
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		c.dropReceipt(id)
		return ctx.Err()
	}
}

// Publish sends body to dest without waiting for a receipt.
func (c *Conn) Publish(dest, contentType string, body []byte) error {
	return c.write(sendFrame(dest, contentType, body))
}

func sendFrame(dest, contentType string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND, frame.Destination, dest)
	if contentType != "" {
		f.Header.Set(frame.ContentType, contentType)
	}
	f.Body = body
	return f
}

var disconnectPrefix = []byte(frame.DISCONNECT + "\n")

// Close sends DISCONNECT and closes the socket once it has been written.
func (c *Conn) Close() error {
	if err := c.write(frame.New(frame.DISCONNECT)); err == nil {
		select {
		case <-c.done:
		case <-time.After(writeWait):
		}
	}
	c.shutdown(ErrConnectionClosed)
	return nil
}

func (c *Conn) dropReceipt(id string) {
	c.mu.Lock()
	delete(c.receipts, id)
	c.mu.Unlock()
}

func (c *Conn) write(f *frame.Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrConnectionClosed
	case c.send <- data:
		return nil
	}
}

// shutdown records the cause, fails outstanding receipts and closes subscriptions.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		receipts := c.receipts
		c.receipts = map[string]chan error{}
		subs := c.subs
		c.subs = map[string]*Subscription{}
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.Close()
		for _, ack := range receipts {
			ack <- cause
		}
		for _, s := range subs {
			close(s.ch)
		}
		if !errors.Is(cause, ErrConnectionClosed) {
			c.log.Info("stomp connection lost", zap.Error(cause))
		}
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			c.shutdown(fmt.Errorf("stomp: read: %w", err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := Decode(data)
		if errors.Is(err, ErrHeartbeat) {
			continue
		}
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if err := c.dispatch(f); err != nil {
			c.shutdown(err)
			return
		}
	}
}

func (c *Conn) dispatch(f *frame.Frame) error {
	switch f.Command {
	case frame.MESSAGE:
		c.mu.Lock()
		sub := c.subs[f.Header.Get(frame.Subscription)]
		var overflow bool
		if sub != nil {
			select {
			case sub.ch <- f:
			default:
				overflow = true
			}
		}
		c.mu.Unlock()
		if sub == nil {
			c.log.Debug("message for unknown subscription", zap.String("subscription", f.Header.Get(frame.Subscription)))
		}
		if overflow {
			return ErrSlowConsumer
		}
	case frame.RECEIPT:
		id := f.Header.Get(frame.ReceiptId)
		c.mu.Lock()
		ack := c.receipts[id]
		delete(c.receipts, id)
		c.mu.Unlock()
		if ack != nil {
			ack <- nil
		}
	case frame.ERROR:
		serr := &ServerError{Message: f.Header.Get(frame.Message), Body: string(f.Body)}
		// An ERROR answering a receipted SEND fails only that send; the broker then closes.
		if id := f.Header.Get(frame.ReceiptId); id != "" {
			c.mu.Lock()
			ack := c.receipts[id]
			delete(c.receipts, id)
			c.mu.Unlock()
			if ack != nil {
				ack <- serr
			}
		}
		return serr
	default:
		c.log.Debug("ignoring frame", zap.String("command", f.Command))
	}
	return nil
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(fmt.Errorf("stomp: write: %w", err))
				return
			}
			if bytes.HasPrefix(data, disconnectPrefix) {
				c.shutdown(ErrConnectionClosed)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("stomp: ping: %w", err))
				return
			}
		}
	}
}

