package nfsclient

import "github.com/marmos91/nfsboot/internal/nfserror"

// ErrorCode and Error are the public error taxonomy, implemented in
// internal/nfserror so internal/protocol/* can construct them without
// importing this package back.
type ErrorCode = nfserror.Code
type Error = nfserror.Error

const (
	InvalidArg       = nfserror.InvalidArg
	NoBuffer         = nfserror.NoBuffer
	Unsupported      = nfserror.Unsupported
	Malformed        = nfserror.Malformed
	RPCRejected      = nfserror.RPCRejected
	RPCAcceptedError = nfserror.RPCAcceptedError
	Remote           = nfserror.Remote
	NotFound         = nfserror.NotFound
	Network          = nfserror.Network
	Cancelled        = nfserror.Cancelled
)
