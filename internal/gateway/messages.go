package gateway

import (
	"encoding/binary"
	"errors"

	"huginn/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidOrderType   = errors.New("invalid order type")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	TopOfBook
	BookDepth
)

// Message format constants. Every request starts with a 2-byte type.
const (
	BaseMessageHeaderLen   = 2
	NewOrderMessageLen     = 1 + 1 + 8 + 8 + 1 // + reference bytes
	CancelOrderMessageLen  = 8
	BookDepthMessageLen    = 2
	quoteLen               = 8 + 8
	tradeLen               = 8 + 8 + 8 + 8 + 1
	ExecutionReportBaseLen = 1 + 8 + 8 + 2
	CancelReportLen        = 1 + 8 + 1
	QuoteReportLen         = 1 + 1 + quoteLen + 1 + quoteLen
)

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ParseMessage decodes one client request off the wire.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case TopOfBook:
		return BaseMessage{TypeOf: TopOfBook}, nil
	case BookDepth:
		return parseBookDepth(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType common.OrderType // 1 byte
	Side      common.Side      // 1 byte
	Price     int64            // 8 bytes, ignored for market orders
	Quantity  int64            // 8 bytes
	RefLen    uint8            // 1 byte
	Ref       string           // n bytes
}

func (m NewOrderMessage) Encode() []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageLen+len(m.Ref))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	buf[2] = byte(m.OrderType)
	buf[3] = byte(m.Side)
	binary.BigEndian.PutUint64(buf[4:12], uint64(m.Price))
	binary.BigEndian.PutUint64(buf[12:20], uint64(m.Quantity))
	buf[20] = uint8(len(m.Ref))
	copy(buf[21:], m.Ref)
	return buf
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	switch common.OrderType(msg[0]) {
	case common.LimitOrder, common.MarketOrder:
		m.OrderType = common.OrderType(msg[0])
	default:
		return NewOrderMessage{}, ErrInvalidOrderType
	}
	switch common.Side(msg[1]) {
	case common.Buy, common.Sell:
		m.Side = common.Side(msg[1])
	default:
		return NewOrderMessage{}, ErrInvalidSide
	}
	m.Price = int64(binary.BigEndian.Uint64(msg[2:10]))
	m.Quantity = int64(binary.BigEndian.Uint64(msg[10:18]))
	m.RefLen = msg[18]

	if len(msg) < NewOrderMessageLen+int(m.RefLen) {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Ref = string(msg[19 : 19+int(m.RefLen)])
	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	OrderID common.OrderID // 8 bytes
}

func (m CancelOrderMessage) Encode() []byte {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint64(buf[2:10], uint64(m.OrderID))
	return buf
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	return CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrder},
		OrderID:     common.OrderID(binary.BigEndian.Uint64(msg[0:8])),
	}, nil
}

func EncodeTopOfBook() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(TopOfBook))
	return buf
}

type BookDepthMessage struct {
	BaseMessage
	Depth uint16 // 2 bytes
}

func (m BookDepthMessage) Encode() []byte {
	buf := make([]byte, BaseMessageHeaderLen+BookDepthMessageLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(BookDepth))
	binary.BigEndian.PutUint16(buf[2:4], m.Depth)
	return buf
}

func parseBookDepth(msg []byte) (BookDepthMessage, error) {
	if len(msg) < BookDepthMessageLen {
		return BookDepthMessage{}, ErrMessageTooShort
	}
	return BookDepthMessage{
		BaseMessage: BaseMessage{TypeOf: BookDepth},
		Depth:       binary.BigEndian.Uint16(msg[0:2]),
	}, nil
}

// --- Reports (server -> client) ---------------------------------------------

type ReportType int

const (
	ExecutionReportType ReportType = iota
	ErrorReportType
	CancelReportType
	QuoteReportType
	DepthReportType
)

// ExecutionReport summarizes one submit call: the trades it produced,
// the residual now resting (limit orders) and the quantity the book
// could not cover (market orders).
type ExecutionReport struct {
	Residual int64
	Unfilled int64
	Trades   []common.Trade
}

func (r ExecutionReport) Encode() []byte {
	buf := make([]byte, ExecutionReportBaseLen+len(r.Trades)*tradeLen)
	buf[0] = byte(ExecutionReportType)
	binary.BigEndian.PutUint64(buf[1:9], uint64(r.Residual))
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Unfilled))
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(r.Trades)))

	offset := ExecutionReportBaseLen
	for _, trade := range r.Trades {
		binary.BigEndian.PutUint64(buf[offset:], uint64(trade.Price))
		binary.BigEndian.PutUint64(buf[offset+8:], uint64(trade.Quantity))
		binary.BigEndian.PutUint64(buf[offset+16:], uint64(trade.TakerID))
		binary.BigEndian.PutUint64(buf[offset+24:], uint64(trade.MakerID))
		buf[offset+32] = byte(trade.TakerSide)
		offset += tradeLen
	}
	return buf
}

type CancelReport struct {
	OrderID common.OrderID
	OK      bool
}

func (r CancelReport) Encode() []byte {
	buf := make([]byte, CancelReportLen)
	buf[0] = byte(CancelReportType)
	binary.BigEndian.PutUint64(buf[1:9], uint64(r.OrderID))
	if r.OK {
		buf[9] = 1
	}
	return buf
}

// QuoteReport carries the top of book; nil sides encode as absent.
type QuoteReport struct {
	Bid *common.Quote
	Ask *common.Quote
}

func (r QuoteReport) Encode() []byte {
	buf := make([]byte, QuoteReportLen)
	buf[0] = byte(QuoteReportType)
	offset := 1
	for _, quote := range []*common.Quote{r.Bid, r.Ask} {
		if quote != nil {
			buf[offset] = 1
			binary.BigEndian.PutUint64(buf[offset+1:], uint64(quote.Price))
			binary.BigEndian.PutUint64(buf[offset+9:], uint64(quote.Quantity))
		}
		offset += 1 + quoteLen
	}
	return buf
}

type DepthReport struct {
	Bids []common.Quote
	Asks []common.Quote
}

func (r DepthReport) Encode() []byte {
	buf := make([]byte, 1+2+2+(len(r.Bids)+len(r.Asks))*quoteLen)
	buf[0] = byte(DepthReportType)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(r.Bids)))
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(r.Asks)))

	offset := 5
	for _, quote := range append(append([]common.Quote{}, r.Bids...), r.Asks...) {
		binary.BigEndian.PutUint64(buf[offset:], uint64(quote.Price))
		binary.BigEndian.PutUint64(buf[offset+8:], uint64(quote.Quantity))
		offset += quoteLen
	}
	return buf
}

type ErrorReport struct {
	Err string
}

func (r ErrorReport) Encode() []byte {
	buf := make([]byte, 1+4+len(r.Err))
	buf[0] = byte(ErrorReportType)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(r.Err)))
	copy(buf[5:], r.Err)
	return buf
}

// Report is the decoded form of any server reply; exactly one field is
// set, matching Type.
type Report struct {
	Type      ReportType
	Execution *ExecutionReport
	Cancel    *CancelReport
	Quote     *QuoteReport
	Depth     *DepthReport
	Err       string
}

// ParseReport decodes a server reply; the client CLI and tests use this.
func ParseReport(msg []byte) (Report, error) {
	if len(msg) < 1 {
		return Report{}, ErrMessageTooShort
	}

	switch ReportType(msg[0]) {
	case ExecutionReportType:
		return parseExecutionReport(msg[1:])
	case CancelReportType:
		if len(msg) < CancelReportLen {
			return Report{}, ErrMessageTooShort
		}
		return Report{
			Type: CancelReportType,
			Cancel: &CancelReport{
				OrderID: common.OrderID(binary.BigEndian.Uint64(msg[1:9])),
				OK:      msg[9] == 1,
			},
		}, nil
	case QuoteReportType:
		return parseQuoteReport(msg[1:])
	case DepthReportType:
		return parseDepthReport(msg[1:])
	case ErrorReportType:
		if len(msg) < 5 {
			return Report{}, ErrMessageTooShort
		}
		errLen := binary.BigEndian.Uint32(msg[1:5])
		if len(msg) < 5+int(errLen) {
			return Report{}, ErrMessageTooShort
		}
		return Report{Type: ErrorReportType, Err: string(msg[5 : 5+errLen])}, nil
	default:
		return Report{}, ErrInvalidMessageType
	}
}

func parseExecutionReport(msg []byte) (Report, error) {
	if len(msg) < ExecutionReportBaseLen-1 {
		return Report{}, ErrMessageTooShort
	}
	exec := ExecutionReport{
		Residual: int64(binary.BigEndian.Uint64(msg[0:8])),
		Unfilled: int64(binary.BigEndian.Uint64(msg[8:16])),
	}
	nTrades := int(binary.BigEndian.Uint16(msg[16:18]))
	if len(msg) < 18+nTrades*tradeLen {
		return Report{}, ErrMessageTooShort
	}

	offset := 18
	for i := 0; i < nTrades; i++ {
		exec.Trades = append(exec.Trades, common.Trade{
			Price:     int64(binary.BigEndian.Uint64(msg[offset:])),
			Quantity:  int64(binary.BigEndian.Uint64(msg[offset+8:])),
			TakerID:   common.OrderID(binary.BigEndian.Uint64(msg[offset+16:])),
			MakerID:   common.OrderID(binary.BigEndian.Uint64(msg[offset+24:])),
			TakerSide: common.Side(msg[offset+32]),
		})
		offset += tradeLen
	}
	return Report{Type: ExecutionReportType, Execution: &exec}, nil
}

func parseQuoteReport(msg []byte) (Report, error) {
	if len(msg) < QuoteReportLen-1 {
		return Report{}, ErrMessageTooShort
	}
	quote := QuoteReport{}
	offset := 0
	for _, target := range []**common.Quote{&quote.Bid, &quote.Ask} {
		if msg[offset] == 1 {
			*target = &common.Quote{
				Price:    int64(binary.BigEndian.Uint64(msg[offset+1:])),
				Quantity: int64(binary.BigEndian.Uint64(msg[offset+9:])),
			}
		}
		offset += 1 + quoteLen
	}
	return Report{Type: QuoteReportType, Quote: &quote}, nil
}

func parseDepthReport(msg []byte) (Report, error) {
	if len(msg) < 4 {
		return Report{}, ErrMessageTooShort
	}
	nBids := int(binary.BigEndian.Uint16(msg[0:2]))
	nAsks := int(binary.BigEndian.Uint16(msg[2:4]))
	if len(msg) < 4+(nBids+nAsks)*quoteLen {
		return Report{}, ErrMessageTooShort
	}

	depth := DepthReport{}
	offset := 4
	for i := 0; i < nBids+nAsks; i++ {
		quote := common.Quote{
			Price:    int64(binary.BigEndian.Uint64(msg[offset:])),
			Quantity: int64(binary.BigEndian.Uint64(msg[offset+8:])),
		}
		if i < nBids {
			depth.Bids = append(depth.Bids, quote)
		} else {
			depth.Asks = append(depth.Asks, quote)
		}
		offset += quoteLen
	}
	return Report{Type: DepthReportType, Depth: &depth}, nil
}
