package websocket

import (
	"sync"

	"github.com/b0xtch/gloo/transport"
)

// MockTransport is a scripted transport for tests: the test drives the
// event side by calling FireOpen/FireMessage/FireError/FireClose, and
// inspects the command side through the recorded Sent*/close fields.
// Fire* calls deliver callbacks synchronously on the caller's goroutine,
// which satisfies the sequential-delivery contract as long as the test
// fires from a single goroutine.
type MockTransport struct {
	mu sync.Mutex

	state      int
	binaryMode bool
	started    bool

	onOpen    func()
	onMessage func(payload any)
	onError   func(err error)
	onClose   func(ev transport.CloseEvent)

	// registrations counts On* calls, so tests can assert that a failed
	// dial never registered anything.
	registrations int

	// Command-side recordings.
	SentText  []string
	SentBytes [][]byte

	CloseCalls      int
	CloseCodes      []uint16
	CloseReasons    []string
	PlainCloseCalls int // Close() with no code/reason

	// Error injection.
	SendErr  error
	CloseErr error

	protocol   string
	extensions string
}

// NewMockTransport returns a mock in the Connecting state.
func NewMockTransport() *MockTransport {
	return &MockTransport{state: transport.StateConnecting}
}

var _ transport.Transport = (*MockTransport)(nil)

func (m *MockTransport) SetBinaryMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binaryMode = true
}

func (m *MockTransport) OnOpen(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
	m.registrations++
}

func (m *MockTransport) OnMessage(fn func(payload any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
	m.registrations++
}

func (m *MockTransport) OnError(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
	m.registrations++
}

func (m *MockTransport) OnClose(fn func(ev transport.CloseEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
	m.registrations++
}

func (m *MockTransport) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

func (m *MockTransport) SendText(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentText = append(m.SentText, s)
	return nil
}

func (m *MockTransport) SendBytes(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentBytes = append(m.SentBytes, b)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.CloseCalls++
	m.PlainCloseCalls++
	m.state = transport.StateClosed
	return nil
}

func (m *MockTransport) CloseWithCode(code uint16) error {
	return m.closeWith(code, "")
}

func (m *MockTransport) CloseWithStatus(code uint16, reason string) error {
	return m.closeWith(code, reason)
}

func (m *MockTransport) closeWith(code uint16, reason string) error {
	if err := transport.ValidateClose(code, reason); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.CloseCalls++
	m.CloseCodes = append(m.CloseCodes, code)
	m.CloseReasons = append(m.CloseReasons, reason)
	m.state = transport.StateClosed
	return nil
}

func (m *MockTransport) ReadyState() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockTransport) Extensions() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extensions
}

func (m *MockTransport) Protocol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocol
}

// SetReadyState forces a raw ready-state value, including invalid ones,
// for state-mapping tests.
func (m *MockTransport) SetReadyState(state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// BinaryMode reports whether SetBinaryMode was called.
func (m *MockTransport) BinaryMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binaryMode
}

// Started reports whether Start was called.
func (m *MockTransport) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Registrations reports how many On* callbacks were registered.
func (m *MockTransport) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrations
}

// FireOpen transitions to Open and invokes the open callback.
func (m *MockTransport) FireOpen() {
	m.mu.Lock()
	m.state = transport.StateOpen
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireMessage delivers a message payload (string or []byte — or anything
// else, for contract-violation tests).
func (m *MockTransport) FireMessage(payload any) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// FireError invokes the error callback.
func (m *MockTransport) FireError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// FireClose transitions to Closed and invokes the close callback.
func (m *MockTransport) FireClose(ev transport.CloseEvent) {
	m.mu.Lock()
	m.state = transport.StateClosed
	fn := m.onClose
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// SetNegotiated fills in the protocol/extensions the fake handshake
// agreed on.
func (m *MockTransport) SetNegotiated(protocol, extensions string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocol = protocol
	m.extensions = extensions
}

// MockDialer hands out a prepared MockTransport, or fails with DialErr.
type MockDialer struct {
	Transport *MockTransport
	DialErr   error

	LastURL       string
	LastProtocols []string
}

var _ transport.Dialer = (*MockDialer)(nil)

func (d *MockDialer) Dial(url string, protocols []string) (transport.Transport, error) {
	d.LastURL = url
	d.LastProtocols = protocols
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Transport == nil {
		d.Transport = NewMockTransport()
	}
	return d.Transport, nil
}
