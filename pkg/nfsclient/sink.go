package nfsclient

import "github.com/marmos91/nfsboot/internal/protocol/rpc"

// Sink is the downstream data consumer the core fetches into. On the
// first READ reply the driver calls Seek with the reported file size
// (only when that reply carries post-op attributes) and then Seek(0);
// it calls Deliver for every chunk of file data, including the first,
// and Close exactly once when the fetch reaches a terminal state.
type Sink interface {
	Seek(offset uint64) error
	Deliver(data []byte) error
	Close(status error) error
}

// Transport and Dialer are the core's socket-facing contracts;
// pkg/tcpdial supplies a real implementation and tests supply an
// in-memory one. Re-exported here so a collaborator only needs to
// import this package, not internal/protocol/rpc directly.
type Transport = rpc.Transport
type Dialer = rpc.Dialer
