// Package nfsclient implements the NFS-open driver: the top-level
// state machine that, given an nfs:// URI, walks Portmap, MOUNT v3,
// and NFS v3 to completion and streams one file's contents to a Sink.
package nfsclient

import (
	"context"
	"fmt"

	"github.com/marmos91/nfsboot/internal/bytesize"
	"github.com/marmos91/nfsboot/internal/logger"
	"github.com/marmos91/nfsboot/internal/nfserror"
	"github.com/marmos91/nfsboot/internal/protocol/mount"
	"github.com/marmos91/nfsboot/internal/protocol/nfs"
	"github.com/marmos91/nfsboot/internal/protocol/portmap"
	"github.com/marmos91/nfsboot/internal/protocol/rpc"
)

// RSIZE is the byte count requested in every READ call. This client
// never invokes FSINFO, so it never learns a server's preferred read
// size and sticks to this conservative default, chosen to fit
// comfortably within a typical MTU after TCP/IP/RPC overhead.
const RSIZE bytesize.ByteSize = 1300

// DefaultMachineName is used when the caller supplies an empty
// machine name for the AUTH_SYS credential.
const DefaultMachineName = "client"

// State enumerates the driver's position in the fetch state machine.
type State int

const (
	StateInit State = iota
	StatePMConnecting
	StatePMGetPortMount
	StateMountConnecting
	StateMnt
	StatePMGetPortNFS
	StateNFSConnecting
	StateLookup
	StateRead
	StateUmnt
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePMConnecting:
		return "PM_CONNECTING"
	case StatePMGetPortMount:
		return "PM_GETPORT_MOUNT"
	case StateMountConnecting:
		return "MOUNT_CONNECTING"
	case StateMnt:
		return "MNT"
	case StatePMGetPortNFS:
		return "PM_GETPORT_NFS"
	case StateNFSConnecting:
		return "NFS_CONNECTING"
	case StateLookup:
		return "LOOKUP"
	case StateRead:
		return "READ"
	case StateUmnt:
		return "UMNT"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Driver owns the three RPC sessions and the per-fetch state needed to
// resolve and stream one file. Create one with Open; it runs to
// completion driven entirely by the Dialer's onConnect callbacks and
// the RPC sessions' reply callbacks — there is no blocking wait
// anywhere in here.
type Driver struct {
	dialer Dialer
	sink   Sink
	log    *logger.LogContext

	uri *URI
	cred rpc.Credential

	state     State
	mounted   bool
	cancelled bool
	umntTried bool

	pmSession    *rpc.Session
	mountSession *rpc.Session
	nfsSession   *rpc.Session

	rootFH []byte
	fileFH []byte
	offset uint64

	firstReadDone bool
	terminalErr   error
}

// Open parses rawURI, validates its collaborators, and begins the
// fetch: dialing Portmap first. machineName feeds the AUTH_SYS
// credential's machine-name field, falling back to DefaultMachineName
// when empty.
func Open(rawURI string, dialer Dialer, sink Sink, machineName string) (*Driver, error) {
	if dialer == nil || sink == nil {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.Open", nil)
	}
	u, err := ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	if machineName == "" {
		machineName = DefaultMachineName
	}

	d := &Driver{
		dialer: dialer,
		sink:   sink,
		log:    logger.NewLogContext(u.Host),
		uri:    u,
		cred: rpc.SysCredential{
			Stamp:       0,
			MachineName: machineName,
			UID:         0,
			GID:         0,
		},
		state: StateInit,
	}

	d.logState()
	d.dialPortmap()
	return d, nil
}

// State returns the driver's current position in the state machine.
func (d *Driver) State() State {
	return d.state
}

// Cancel is the downstream-close cancellation signal: the driver tears
// down to FAILED with CANCELLED, closing all sessions without
// attempting UMNT.
func (d *Driver) Cancel() {
	if d.state == StateDone || d.state == StateFailed {
		return
	}
	d.cancelled = true
	d.fail(nfserror.New(nfserror.Cancelled, "nfsclient.Driver.Cancel", nil))
}

func (d *Driver) logState() {
	lc := d.log.WithState(d.state.String())
	logger.DebugCtx(logger.WithContext(context.Background(), lc), "driver state transition")
}

func (d *Driver) dialPortmap() {
	d.state = StatePMConnecting
	d.logState()

	addr := fmt.Sprintf("%s:%d", d.uri.Host, d.uri.Port)
	transport, err := d.dialer.Dial(addr, d.onPMConnect)
	if err != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.dialPortmap", err))
		return
	}
	d.pmSession = rpc.NewSession(transport, portmap.Program, portmap.Version, rpc.NoneCredential{}, rpc.NoneCredential{})
	d.pmSession.SetLogContext(d.log.WithSession("portmap"))
}

func (d *Driver) onPMConnect(err error) {
	if err != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onPMConnect", err))
		return
	}
	d.state = StatePMGetPortMount
	d.logState()

	if err := portmap.GetPort(d.pmSession, mount.Program, mount.Version, portmap.ProtoTCP, d.onMountPort); err != nil {
		d.fail(err)
	}
}

func (d *Driver) onMountPort(port uint32, err error) {
	if err != nil {
		d.fail(err)
		return
	}
	d.state = StateMountConnecting
	d.logState()

	addr := fmt.Sprintf("%s:%d", d.uri.Host, port)
	transport, derr := d.dialer.Dial(addr, d.onMountConnect)
	if derr != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onMountPort", derr))
		return
	}
	d.mountSession = rpc.NewSession(transport, mount.Program, mount.Version, d.cred, rpc.NoneCredential{})
	d.mountSession.SetLogContext(d.log.WithSession("mount"))
}

func (d *Driver) onMountConnect(err error) {
	if err != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onMountConnect", err))
		return
	}
	d.state = StateMnt
	d.logState()

	if err := mount.Mnt(d.mountSession, d.uri.Export, d.onMntReply); err != nil {
		d.fail(err)
	}
}

func (d *Driver) onMntReply(reply *mount.MntReply, err error) {
	if err != nil {
		d.fail(err)
		return
	}
	d.mounted = true
	d.rootFH = reply.FileHandle
	d.state = StatePMGetPortNFS
	d.logState()

	if err := portmap.GetPort(d.pmSession, nfs.Program, nfs.Version, portmap.ProtoTCP, d.onNFSPort); err != nil {
		d.fail(err)
	}
}

func (d *Driver) onNFSPort(port uint32, err error) {
	if err != nil {
		d.fail(err)
		return
	}

	addr := fmt.Sprintf("%s:%d", d.uri.Host, port)
	transport, derr := d.dialer.Dial(addr, d.onNFSConnect)
	if derr != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onNFSPort", derr))
		return
	}
	d.nfsSession = rpc.NewSession(transport, nfs.Program, nfs.Version, d.cred, rpc.NoneCredential{})
	d.nfsSession.SetLogContext(d.log.WithSession("nfs"))

	// The portmap session has done its job for both lookups; drop it
	// now rather than holding it open through the whole READ loop.
	d.pmSession.Close(nil)

	d.state = StateNFSConnecting
	d.logState()
}

func (d *Driver) onNFSConnect(err error) {
	if err != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onNFSConnect", err))
		return
	}
	d.state = StateLookup
	d.logState()

	if err := nfs.Lookup(d.nfsSession, d.rootFH, d.uri.Name, d.onLookupReply); err != nil {
		d.fail(err)
	}
}

func (d *Driver) onLookupReply(reply *nfs.LookupReply, err error) {
	if err != nil {
		d.fail(err)
		return
	}
	d.fileFH = reply.FileHandle
	d.offset = 0
	d.state = StateRead
	d.logState()
	d.issueRead()
}

func (d *Driver) issueRead() {
	if err := nfs.Read(d.nfsSession, d.fileFH, d.offset, uint32(RSIZE), d.onReadReply); err != nil {
		d.fail(err)
	}
}

func (d *Driver) onReadReply(reply *nfs.ReadReply, err error) {
	if err != nil {
		d.fail(err)
		return
	}

	if !d.firstReadDone {
		d.firstReadDone = true
		if reply.Size != nil {
			if serr := d.sink.Seek(*reply.Size); serr != nil {
				d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onReadReply", serr))
				return
			}
		}
		if serr := d.sink.Seek(0); serr != nil {
			d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onReadReply", serr))
			return
		}
	}

	if derr := d.sink.Deliver(reply.Data); derr != nil {
		d.fail(nfserror.New(nfserror.Network, "nfsclient.Driver.onReadReply", derr))
		return
	}
	d.offset += uint64(reply.Count)

	if reply.EOF {
		d.transitionToUmnt(nil, true)
		return
	}
	d.issueRead()
}

// transitionToUmnt issues UMNT and, regardless of its outcome, ends
// the fetch reporting origErr/success. UMNT still runs after a
// mid-fetch failure as long as MNT had already succeeded.
func (d *Driver) transitionToUmnt(origErr error, success bool) {
	d.state = StateUmnt
	d.logState()

	if err := mount.Umnt(d.mountSession, d.uri.Export, func(error) {
		d.finish(origErr, success)
	}); err != nil {
		d.finish(err, false)
	}
}

// fail funnels every error path to a single terminal transition:
// issue UMNT first if MNT had already succeeded and this isn't a
// cancellation, then close everything down reporting err.
func (d *Driver) fail(err error) {
	if d.state == StateDone || d.state == StateFailed {
		return
	}
	if d.mounted && !d.cancelled && !d.umntTried && d.state != StateUmnt {
		d.umntTried = true
		d.transitionToUmnt(err, false)
		return
	}
	d.finish(err, false)
}

// finish is idempotent: the first call closes every session and the
// sink and moves to the terminal state; later calls are no-ops.
func (d *Driver) finish(status error, success bool) {
	if d.state == StateDone || d.state == StateFailed {
		return
	}
	if success {
		d.state = StateDone
	} else {
		d.state = StateFailed
	}
	d.logState()

	if d.terminalErr == nil {
		d.terminalErr = status
	}

	if d.pmSession != nil {
		d.pmSession.Close(status)
	}
	if d.mountSession != nil {
		d.mountSession.Close(status)
	}
	if d.nfsSession != nil {
		d.nfsSession.Close(status)
	}
	d.sink.Close(status)
}
