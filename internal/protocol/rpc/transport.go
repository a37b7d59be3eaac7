package rpc

// SendStatus reports the outcome of a single Transport.Send call.
type SendStatus int

const (
	// SendOK means the frame was handed off to the transport.
	SendOK SendStatus = iota
	// SendWouldBlock means the transport's send window is currently
	// closed; the caller must queue the frame and retry on the next
	// window-open notification.
	SendWouldBlock
)

// Transport is the collaborator each Session drives. It owns one TCP
// connection (or a test double standing in for one) and is solely
// responsible for record-marking reassembly on receive; Session only
// ever sees whole, de-framed RPC messages via onRecv.
//
// Every method must be safe to call from the single cooperative
// scheduling loop the driver runs on — there is no internal locking
// here because there is only one goroutine.
type Transport interface {
	// Send attempts to write a record-marked frame (see Frame). It
	// returns SendWouldBlock, nil if the transport's window is closed;
	// the caller is responsible for resending after onWindowOpen fires.
	Send(frame []byte) (SendStatus, error)

	// SetCallbacks registers the Session's event handlers. A Transport
	// implementation calls onRecv once per reassembled RPC message
	// (record-marking header already stripped), onWindowOpen when a
	// previously blocked Send may be retried, and onClose exactly once
	// when the connection is torn down for any reason.
	SetCallbacks(onRecv func([]byte), onWindowOpen func(), onClose func(error))

	// Close shuts the transport down bidirectionally, reporting status
	// as the reason if the shutdown was driver-initiated.
	Close(status error) error
}

// Dialer establishes a Transport for a session. The core never dials
// sockets itself; pkg/tcpdial supplies a concrete, privileged-port-aware
// implementation, and tests supply an in-memory one.
type Dialer interface {
	// Dial connects to addr and returns a Transport once the connection
	// is established. onConnect fires asynchronously when the connection
	// completes; the returned Transport is usable for Send before then,
	// but frames will queue until the underlying connection is up.
	Dial(addr string, onConnect func(error)) (Transport, error)
}
