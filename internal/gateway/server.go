package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"huginn/internal/common"
	"huginn/internal/engine"
	"huginn/internal/utils"
)

const (
	maxRecvSize        = 4 * 1024
	defaultConnTimeout = 30 * time.Second
)

var ErrImproperConversion = errors.New("improper type conversion")

// ClientSession tracks one connected TCP session.
type ClientSession struct {
	id   uuid.UUID
	conn net.Conn
}

// ClientMessage links a parsed request to the session that sent it.
type ClientMessage struct {
	session *ClientSession
	message Message
}

// Server exposes one order book over TCP. Connection reads are fanned out
// to a worker pool, but every parsed command funnels into a single
// command loop, so submissions and cancels apply strictly in the order
// they were read off the wire.
type Server struct {
	address  string
	port     int
	maxDepth int
	book     *engine.OrderBook
	pool     utils.WorkerPool
	cancel   context.CancelFunc

	sessions     map[string]*ClientSession
	sessionsLock sync.Mutex

	commands chan ClientMessage
}

func New(address string, port int, workers uint, maxDepth int, book *engine.OrderBook) *Server {
	return &Server{
		address:  address,
		port:     port,
		maxDepth: maxDepth,
		book:     book,
		pool:     utils.NewWorkerPool(workers),
		sessions: make(map[string]*ClientSession),
		commands: make(chan ClientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("gateway shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Readers fan out; the command loop stays single so the book sees
	// one serialized stream of mutations.
	s.pool.Setup(t, s.handleConnection)
	t.Go(func() error {
		return s.commandLoop(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("gateway running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			session := s.addSession(conn)
			log.Info().
				Str("session", session.id.String()).
				Str("address", conn.RemoteAddr().String()).
				Msg("new client connected")

			s.pool.AddTask(session)
		}
	}
}

// commandLoop drains parsed client messages, applies them to the book
// and writes the reply back on the session's connection. Only this
// goroutine touches the book through the gateway and only it writes to
// client connections, so replies never interleave.
func (s *Server) commandLoop(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.commands:
			reply := s.apply(cm)
			if reply == nil {
				continue
			}
			if _, err := cm.session.conn.Write(reply); err != nil {
				log.Error().
					Err(err).
					Str("session", cm.session.id.String()).
					Msg("unable to send reply")
				s.dropSession(cm.session)
			}
		}
	}
}

// apply executes one client command against the book and encodes the
// reply. Heartbeats have no reply.
func (s *Server) apply(cm ClientMessage) []byte {
	switch msg := cm.message.(type) {
	case NewOrderMessage:
		return s.applyOrder(cm.session, msg)

	case CancelOrderMessage:
		ok := s.book.Cancel(msg.OrderID)
		log.Info().
			Str("session", cm.session.id.String()).
			Uint64("order", uint64(msg.OrderID)).
			Bool("found", ok).
			Msg("cancel")
		return CancelReport{OrderID: msg.OrderID, OK: ok}.Encode()

	case BookDepthMessage:
		depth := int(msg.Depth)
		if depth > s.maxDepth {
			depth = s.maxDepth
		}
		bids, asks := s.book.Snapshot(depth)
		return DepthReport{Bids: bids, Asks: asks}.Encode()

	case BaseMessage:
		if msg.TypeOf == TopOfBook {
			bid, ask := s.book.TopOfBook()
			return QuoteReport{Bid: bid, Ask: ask}.Encode()
		}
		// Heartbeat: keep the session alive, nothing to say back.
		return nil
	}
	return ErrorReport{Err: ErrInvalidMessageType.Error()}.Encode()
}

func (s *Server) applyOrder(session *ClientSession, msg NewOrderMessage) []byte {
	var (
		trades   []common.Trade
		residual int64
		err      error
	)

	switch msg.OrderType {
	case common.MarketOrder:
		trades, err = s.book.SubmitMarket(msg.Side, msg.Quantity, msg.Ref)
	case common.LimitOrder:
		trades, residual, err = s.book.SubmitLimit(msg.Side, msg.Quantity, msg.Price, msg.Ref)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("session", session.id.String()).
			Msg("order rejected")
		return ErrorReport{Err: err.Error()}.Encode()
	}

	filled := int64(0)
	for _, trade := range trades {
		filled += trade.Quantity
	}
	unfilled := int64(0)
	if msg.OrderType == common.MarketOrder {
		unfilled = msg.Quantity - filled
	}

	log.Info().
		Str("session", session.id.String()).
		Stringer("side", msg.Side).
		Stringer("type", msg.OrderType).
		Int64("quantity", msg.Quantity).
		Int64("filled", filled).
		Int64("residual", residual).
		Int64("unfilled", unfilled).
		Int("trades", len(trades)).
		Msg("order executed")

	return ExecutionReport{Residual: residual, Unfilled: unfilled, Trades: trades}.Encode()
}

// handleConnection is a short-lived worker task: read the next message
// off the session, parse it, hand it to the command loop and requeue the
// session for its next message. A dead connection drops the session.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	if err := session.conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Err(err).
			Str("session", session.id.String()).
			Msg("failed setting deadline for connection")
		s.dropSession(session)
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := session.conn.Read(buffer)
		if err != nil {
			// Read timeouts just requeue the session; anything else
			// means the client is gone.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.pool.AddTask(session)
				return nil
			}
			s.dropSession(session)
			return nil
		}

		message, err := ParseMessage(buffer[:n])
		if err != nil {
			log.Warn().
				Err(err).
				Str("session", session.id.String()).
				Msg("error parsing message")
			if _, err := session.conn.Write((ErrorReport{Err: err.Error()}).Encode()); err != nil {
				s.dropSession(session)
				return nil
			}
		} else {
			s.commands <- ClientMessage{session: session, message: message}
		}

		s.pool.AddTask(session)
	}
	return nil
}

func (s *Server) addSession(conn net.Conn) *ClientSession {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	session := &ClientSession{id: uuid.New(), conn: conn}
	s.sessions[conn.RemoteAddr().String()] = session
	return session
}

func (s *Server) dropSession(session *ClientSession) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if err := session.conn.Close(); err != nil {
		log.Debug().Err(err).Str("session", session.id.String()).Msg("closing connection")
	}
	delete(s.sessions, session.conn.RemoteAddr().String())
}
