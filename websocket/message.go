package websocket

// MessageType discriminates the two payload shapes a connection carries.
type MessageType int

const (
	MessageText   MessageType = iota // UTF-8 text payload, in Message.Text
	MessageBinary                    // raw byte payload, in Message.Data
)

// String returns a readable name, mostly for test failure output.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is a single text or binary payload. The zero value is not a
// valid message — construct one with Text or Bytes. Treat messages as
// immutable once constructed: the adapter never mutates Data, and callers
// that hold on to a received message should not either.
type Message struct {
	Type MessageType
	Text string // set when Type == MessageText
	Data []byte // set when Type == MessageBinary
}

// Text builds a text message.
func Text(s string) Message {
	return Message{Type: MessageText, Text: s}
}

// Bytes builds a binary message.
func Bytes(b []byte) Message {
	return Message{Type: MessageBinary, Data: b}
}
