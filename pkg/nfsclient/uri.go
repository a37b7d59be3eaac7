package nfsclient

import (
	"strings"

	"github.com/marmos91/nfsboot/internal/nfserror"
)

// DefaultPortmapPort is the well-known Portmap port (RFC 1833), used
// when a URI omits one.
const DefaultPortmapPort = 111

// URI is a parsed nfs://HOST[:PORT]/EXPORT/PATH reference.
type URI struct {
	Host string
	Port int
	// Export is the directory portion of the path, up to and
	// including the final slash (e.g. "/srv/export/").
	Export string
	// Name is the basename of the target file.
	Name string
}

// ParseURI parses raw against the nfs:// scheme. Host is required;
// Port defaults to DefaultPortmapPort. An empty host or empty path
// yields INVALID_ARG.
func ParseURI(raw string) (*URI, error) {
	const scheme = "nfs://"
	if !strings.HasPrefix(raw, scheme) {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", nil)
	}
	rest := raw[len(scheme):]

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", nil)
	}
	authority := rest[:slash]
	path := rest[slash:] // keeps the leading slash

	if authority == "" || path == "/" {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", nil)
	}

	host := authority
	port := DefaultPortmapPort
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host = authority[:i]
		p, err := parsePort(authority[i+1:])
		if err != nil {
			return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", err)
		}
		port = p
	}
	if host == "" {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", nil)
	}

	lastSlash := strings.LastIndexByte(path, '/')
	export := path[:lastSlash+1]
	name := path[lastSlash+1:]
	if name == "" {
		return nil, nfserror.New(nfserror.InvalidArg, "nfsclient.ParseURI", nil)
	}

	return &URI{Host: host, Port: port, Export: export, Name: name}, nil
}

func parsePort(s string) (int, error) {
	if s == "" {
		return 0, nfserror.New(nfserror.InvalidArg, "nfsclient.parsePort", nil)
	}
	port := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, nfserror.New(nfserror.InvalidArg, "nfsclient.parsePort", nil)
		}
		port = port*10 + int(c-'0')
		if port > 65535 {
			return 0, nfserror.New(nfserror.InvalidArg, "nfsclient.parsePort", nil)
		}
	}
	return port, nil
}
