// Package chat keeps one room's message timeline consistent with the server while a live
// channel is open, and provides send, typing and read operations with a REST fallback.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"forum-client/internal/gateway"
	"forum-client/internal/telemetry"
)

const instrumentationName = "forum-client/internal/chat"

// DefaultPageSize is the number of messages loaded by Refresh.
const DefaultPageSize = 100

const (
	defaultReconnectDelay = time.Second
	defaultReconnectMax   = 30 * time.Second
)

var (
	// ErrSendInProgress is returned by SendMessage while another send is outstanding.
	ErrSendInProgress = errors.New("chat: send already in progress")
	// ErrNoRoom is returned by room operations when no room is selected.
	ErrNoRoom = errors.New("chat: no room selected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chat: synchronizer closed")
)

// ConnState is the live-channel state of the selected room.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// SendState guards SendMessage.
type SendState int

const (
	SendIdle SendState = iota
	Sending
)

// SendError is a failed send. Its message is suitable for showing to the user.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return gateway.UserMessage(e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Snapshot is a consistent copy of the synchronizer's view.
type Snapshot struct {
	Room     RoomRef
	Conn     ConnState
	Messages []Message
	Typing   []string
	Compose  string
	Send     SendState
	// Archived is set while Messages is the local archive's copy because the first load
	// of the room failed.
	Archived bool
}

// Options configures a Synchronizer. Transport, History and Identity are required.
type Options struct {
	Transport Transport
	History   History
	Identity  Identity
	// Archiver, when set, receives every merged or fetched message.
	Archiver Archiver
	Emitter  telemetry.EventEmitter

	TypingIdle     time.Duration
	PageSize       int
	ReconnectDelay time.Duration
	ReconnectMax   time.Duration

	// OnChange is called after any change to the view. It must not block; call Snapshot
	// to read the new state.
	OnChange func()
	// OnRead is called for every inbound read event, including group ones which carry
	// only a read count.
	OnRead func(RoomRef, ReadEvent)

	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	AfterFunc     AfterFunc
}

// Synchronizer owns the selected room's timeline, typing presence, compose text and live
// channel. All methods are safe for concurrent use.
type Synchronizer struct {
	transport Transport
	history   History
	identity  Identity
	archiver  Archiver
	emitter   telemetry.EventEmitter
	log       *zap.Logger
	afterFunc AfterFunc
	onChange  func()
	onRead    func(RoomRef, ReadEvent)

	typingIdle     time.Duration
	pageSize       int
	reconnectDelay time.Duration
	reconnectMax   time.Duration

	sendCounter      metric.Int64Counter
	reconnectCounter metric.Int64Counter

	wg sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	authenticated bool
	active        bool
	room          RoomRef
	roomSeq       uint64
	gen           uint64
	cancel        context.CancelFunc
	conn          ConnState
	ch            Channel
	timeline      *Timeline
	presence      *Presence
	readSent      map[int64]struct{}
	compose       string
	send          SendState
	archived      bool
	typingTimer   Timer
	typingGen     uint64
}

// New returns a Synchronizer with no room selected and the live channel disabled.
func New(opts Options) (*Synchronizer, error) {
	if opts.Transport == nil || opts.History == nil || opts.Identity == nil {
		return nil, errors.New("chat: transport, history and identity are required")
	}
	s := &Synchronizer{
		transport:      opts.Transport,
		history:        opts.History,
		identity:       opts.Identity,
		archiver:       opts.Archiver,
		emitter:        opts.Emitter,
		log:            opts.Logger,
		afterFunc:      opts.AfterFunc,
		onChange:       opts.OnChange,
		onRead:         opts.OnRead,
		typingIdle:     opts.TypingIdle,
		pageSize:       opts.PageSize,
		reconnectDelay: opts.ReconnectDelay,
		reconnectMax:   opts.ReconnectMax,
		timeline:       NewTimeline(),
		readSent:       make(map[int64]struct{}),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("chat")
	if s.afterFunc == nil {
		s.afterFunc = realAfterFunc
	}
	if s.typingIdle <= 0 {
		s.typingIdle = DefaultTypingWindow
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = defaultReconnectDelay
	}
	if s.reconnectMax < s.reconnectDelay {
		s.reconnectMax = max(defaultReconnectMax, s.reconnectDelay)
	}
	s.presence = NewPresence(DefaultTypingWindow)

	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	var err error
	if s.sendCounter, err = meter.Int64Counter("forum.chat.sends",
		metric.WithDescription("Chat sends by delivery path")); err != nil {
		return nil, err
	}
	if s.reconnectCounter, err = meter.Int64Counter("forum.chat.reconnects",
		metric.WithDescription("Live channel reconnect attempts")); err != nil {
		return nil, err
	}
	return s, nil
}

// SetConditions updates the enabling conditions. Any change tears the live channel down
// and re-establishes it if the user is authenticated, the view is active and a room is selected.
func (s *Synchronizer) SetConditions(authenticated, active bool) {
	s.mu.Lock()
	if s.closed || (s.authenticated == authenticated && s.active == active) {
		s.mu.Unlock()
		return
	}
	s.authenticated, s.active = authenticated, active
	old := s.teardownLocked()
	s.startLocked()
	s.mu.Unlock()

	closeChannel(old)
	s.changed()
}

// SelectRoom switches to room, clearing the previous room's state, and loads its first
// page. Selecting the zero RoomRef deselects. A load failure is returned but leaves the
// room selected.
func (s *Synchronizer) SelectRoom(ctx context.Context, room RoomRef) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if room == s.room {
		s.mu.Unlock()
		return nil
	}
	old := s.teardownLocked()
	s.room = room
	s.roomSeq++
	s.timeline = NewTimeline()
	s.presence.Reset()
	s.readSent = make(map[int64]struct{})
	s.compose = ""
	s.archived = false
	s.startLocked()
	s.mu.Unlock()

	closeChannel(old)
	s.changed()
	if room.IsZero() {
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh reloads the first page of the selected room and replaces the timeline with it.
// Messages merged from the live channel that are newer than the page are kept. On failure
// the timeline is left untouched.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	room, seq := s.room, s.roomSeq
	s.mu.Unlock()
	if room.IsZero() {
		return ErrNoRoom
	}

	msgs, err := s.history.Fetch(ctx, room, s.pageSize)
	if err != nil {
		s.log.Warn("fetch messages failed", zap.Stringer("room", room), zap.Error(err))
		if s.loadArchived(ctx, room, seq) {
			s.changed()
		}
		return err
	}
	var newest time.Time
	for i := range msgs {
		if msgs[i].Room.IsZero() {
			msgs[i].Room = room
		}
		if msgs[i].CreatedAt.After(newest) {
			newest = msgs[i].CreatedAt
		}
	}

	s.mu.Lock()
	if seq != s.roomSeq {
		s.mu.Unlock()
		return nil
	}
	prior := s.timeline.Messages()
	s.timeline.Replace(msgs)
	s.archived = false
	for _, m := range prior {
		if m.CreatedAt.After(newest) {
			s.timeline.Merge(m)
		}
	}
	readID, ch := s.readTargetLocked()
	s.mu.Unlock()

	s.archive(ctx, msgs)
	s.sendRead(ch, readID)
	s.changed()
	return nil
}

// SendMessage sends text to the selected room, live first and over REST if the live
// channel is unavailable or fails. Blank text is ignored. On success the compose text is
// cleared; on failure it is kept and a *SendError is returned.
func (s *Synchronizer) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.room.IsZero():
		s.mu.Unlock()
		return ErrNoRoom
	case s.send == Sending:
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.send = Sending
	room, seq := s.room, s.roomSeq
	var ch Channel
	if s.conn == Connected {
		ch = s.ch
	}
	s.mu.Unlock()
	s.changed()

	defer func() {
		s.mu.Lock()
		s.send = SendIdle
		s.mu.Unlock()
		s.changed()
	}()

	if ch != nil {
		err := ch.Send(ctx, text)
		if err == nil {
			s.sent(ctx, room, seq, "live")
			return nil
		}
		s.log.Info("live send failed, falling back to REST", zap.Stringer("room", room), zap.Error(err))
	}

	if err := s.history.Post(ctx, room, text); err != nil {
		s.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "failed")))
		s.log.Warn("send failed", zap.Stringer("room", room), zap.Error(err))
		telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
			Type:     telemetry.EventSendFailed,
			Username: s.identity.Username(),
			Room:     room.String(),
			Path:     "rest",
			Detail:   err.Error(),
		})
		return &SendError{Err: err}
	}
	s.sent(ctx, room, seq, "rest")
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrNoRoom) {
		s.log.Warn("refresh after send failed", zap.Stringer("room", room), zap.Error(err))
	}
	return nil
}

func (s *Synchronizer) sent(ctx context.Context, room RoomRef, seq uint64, path string) {
	s.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		Type:     telemetry.EventMessageSent,
		Username: s.identity.Username(),
		Room:     room.String(),
		Path:     path,
	})

	s.mu.Lock()
	if seq != s.roomSeq {
		s.mu.Unlock()
		return
	}
	s.compose = ""
	stop := s.disarmTypingLocked()
	ch := s.ch
	s.mu.Unlock()
	if stop && ch != nil {
		s.typingStop(ch)
	}
}

// InputChanged records the compose text and drives the outgoing typing indicator.
// Non-empty input on a connected room sends typing-start and rearms the idle timer;
// empty input sends typing-stop at once if one is pending.
func (s *Synchronizer) InputChanged(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.compose = text
	var ch Channel
	if s.conn == Connected {
		ch = s.ch
	}
	var start, stop bool
	switch {
	case strings.TrimSpace(text) == "":
		stop = s.disarmTypingLocked()
	case ch != nil:
		start = true
		s.armTypingLocked()
	}
	s.mu.Unlock()

	if ch != nil {
		if start {
			if err := ch.TypingStart(); err != nil {
				s.log.Debug("typing start failed", zap.Error(err))
			}
		} else if stop {
			s.typingStop(ch)
		}
	}
	s.changed()
}

// Compose returns the current compose text.
func (s *Synchronizer) Compose() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose
}

// MarkRead sends a read receipt for message id of the selected Direct room. A receipt
// already sent for id is not sent again.
func (s *Synchronizer) MarkRead(id int64) error {
	s.mu.Lock()
	if s.room.Kind != Direct {
		s.mu.Unlock()
		return nil
	}
	if s.conn != Connected || s.ch == nil {
		s.mu.Unlock()
		return nil
	}
	if _, dup := s.readSent[id]; dup {
		s.mu.Unlock()
		return nil
	}
	s.readSent[id] = struct{}{}
	ch := s.ch
	s.mu.Unlock()
	return s.sendRead(ch, id)
}

// Snapshot returns a copy of the current view.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Room:     s.room,
		Conn:     s.conn,
		Messages: s.timeline.Messages(),
		Typing:   s.presence.Typing(),
		Compose:  s.compose,
		Send:     s.send,
		Archived: s.archived,
	}
}

// Close tears down the live channel and waits for its goroutine to exit.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	old := s.teardownLocked()
	s.mu.Unlock()

	closeChannel(old)
	s.wg.Wait()
	return nil
}

func (s *Synchronizer) enabledLocked() bool {
	return !s.closed && s.authenticated && s.active && !s.room.IsZero()
}

// teardownLocked invalidates the current connection generation and returns the channel
// for the caller to close once the lock is released.
func (s *Synchronizer) teardownLocked() Channel {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	old := s.ch
	s.ch = nil
	s.conn = Disconnected
	s.disarmTypingLocked()
	s.presence.Reset()
	return old
}

func (s *Synchronizer) startLocked() {
	if !s.enabledLocked() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.conn = Connecting
	gen, room := s.gen, s.room
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, gen, room)
	}()
}

func (s *Synchronizer) run(ctx context.Context, gen uint64, room RoomRef) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.reconnectDelay
	b.MaxInterval = s.reconnectMax
	b.Reset()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if !s.setConn(gen, Connecting) {
				return
			}
			s.reconnectCounter.Add(ctx, 1)
		}
		ch, err := s.transport.Open(ctx, room, s.identity.AccessToken())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Info("live channel open failed", zap.Stringer("room", room), zap.Error(err))
			if !s.setConn(gen, Disconnected) || !sleep(ctx, b.NextBackOff()) {
				return
			}
			continue
		}
		if !s.attach(gen, room, ch) {
			closeChannel(ch)
			return
		}
		b.Reset()
		if attempt > 0 {
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("refresh after reconnect failed", zap.Stringer("room", room), zap.Error(err))
			}
		}

		for ev := range ch.Events() {
			s.apply(gen, room, ev)
		}

		if !s.detach(gen, room, ch) || !sleep(ctx, b.NextBackOff()) {
			return
		}
	}
}

func (s *Synchronizer) setConn(gen uint64, state ConnState) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	changed := s.conn != state
	s.conn = state
	s.mu.Unlock()
	if changed {
		s.changed()
	}
	return true
}

func (s *Synchronizer) attach(gen uint64, room RoomRef, ch Channel) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.ch = ch
	s.conn = Connected
	readID, readCh := s.readTargetLocked()
	s.mu.Unlock()

	s.log.Info("live channel connected", zap.Stringer("room", room))
	telemetry.EmitAsync(s.emitter, context.Background(), &telemetry.Event{
		Type:     telemetry.EventChatConnected,
		Username: s.identity.Username(),
		Room:     room.String(),
	})
	s.sendRead(readCh, readID)
	s.changed()
	return true
}

// detach handles a dropped channel. Returns false if the generation has moved on.
func (s *Synchronizer) detach(gen uint64, room RoomRef, ch Channel) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.ch = nil
	s.conn = Disconnected
	s.disarmTypingLocked()
	s.presence.Reset()
	s.mu.Unlock()

	closeChannel(ch)
	s.log.Info("live channel dropped", zap.Stringer("room", room))
	telemetry.EmitAsync(s.emitter, context.Background(), &telemetry.Event{
		Type:     telemetry.EventChatDisconnected,
		Username: s.identity.Username(),
		Room:     room.String(),
	})
	s.changed()
	return true
}

func (s *Synchronizer) apply(gen uint64, room RoomRef, ev Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	var (
		merged Message
		isNew  bool
		readID int64
		readCh Channel
	)
	switch ev.Kind {
	case EventMessage:
		merged = ev.Message
		if merged.Room.IsZero() {
			merged.Room = room
		}
		if isNew = s.timeline.Merge(merged); !isNew {
			s.mu.Unlock()
			return
		}
		readID, readCh = s.readTargetLocked()
	case EventTyping:
		if ev.Typing.Username == "" || ev.Typing.Username == s.identity.Username() {
			s.mu.Unlock()
			return
		}
		s.presence.Set(ev.Typing.Username, ev.Typing.Typing)
	case EventRead:
		if room.Kind == Direct {
			s.timeline.MarkRead(ev.Read.MessageID)
		}
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if isNew {
		s.archive(context.Background(), []Message{merged})
	}
	if ev.Kind == EventRead && s.onRead != nil {
		s.onRead(room, ev.Read)
	}
	s.sendRead(readCh, readID)
	s.changed()
}

// readTargetLocked picks the message to acknowledge: the last message of a connected
// Direct room when another user wrote it, it is unread and no receipt was sent for it yet.
// The pick is recorded as sent.
func (s *Synchronizer) readTargetLocked() (int64, Channel) {
	if s.room.Kind != Direct || s.conn != Connected || s.ch == nil {
		return 0, nil
	}
	last, ok := s.timeline.Last()
	if !ok || last.IsRead() || last.Sender.Username == s.identity.Username() {
		return 0, nil
	}
	if _, dup := s.readSent[last.ID]; dup {
		return 0, nil
	}
	s.readSent[last.ID] = struct{}{}
	return last.ID, s.ch
}

func (s *Synchronizer) sendRead(ch Channel, id int64) error {
	if ch == nil {
		return nil
	}
	err := ch.MarkRead(id)
	if err != nil {
		s.mu.Lock()
		if s.ch == ch {
			delete(s.readSent, id)
		}
		s.mu.Unlock()
		s.log.Debug("mark read failed", zap.Int64("message_id", id), zap.Error(err))
	}
	return err
}

func (s *Synchronizer) armTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingGen++
	gen := s.typingGen
	s.typingTimer = s.afterFunc(s.typingIdle, func() { s.typingExpired(gen) })
}

// disarmTypingLocked cancels the idle timer. Returns true if one was armed, meaning a
// typing-stop is still owed.
func (s *Synchronizer) disarmTypingLocked() bool {
	s.typingGen++
	if s.typingTimer == nil {
		return false
	}
	s.typingTimer.Stop()
	s.typingTimer = nil
	return true
}

func (s *Synchronizer) typingExpired(gen uint64) {
	s.mu.Lock()
	if gen != s.typingGen || s.typingTimer == nil {
		s.mu.Unlock()
		return
	}
	s.typingTimer = nil
	ch := s.ch
	s.mu.Unlock()
	if ch != nil {
		s.typingStop(ch)
	}
}

func (s *Synchronizer) typingStop(ch Channel) {
	if err := ch.TypingStop(); err != nil {
		s.log.Debug("typing stop failed", zap.Error(err))
	}
}

// loadArchived fills a still-empty timeline of room from the archive. It reports whether
// the view changed.
func (s *Synchronizer) loadArchived(ctx context.Context, room RoomRef, seq uint64) bool {
	reader, ok := s.archiver.(ArchiveReader)
	if !ok {
		return false
	}
	s.mu.Lock()
	empty := seq == s.roomSeq && s.timeline.Len() == 0
	s.mu.Unlock()
	if !empty {
		return false
	}

	msgs, err := reader.ListByRoom(ctx, room, s.pageSize)
	if err != nil {
		s.log.Warn("read archived messages failed", zap.Stringer("room", room), zap.Error(err))
		return false
	}
	if len(msgs) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.roomSeq || s.timeline.Len() != 0 {
		return false
	}
	s.timeline.Replace(msgs)
	s.archived = true
	return true
}

func (s *Synchronizer) archive(ctx context.Context, msgs []Message) {
	if s.archiver == nil || len(msgs) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, msgs); err != nil {
		s.log.Warn("archive messages failed", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

func (s *Synchronizer) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func closeChannel(ch Channel) {
	if ch != nil {
		_ = ch.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
