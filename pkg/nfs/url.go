package nfs

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
)

// URL is a parsed mount URL:
//
//	nfs://host[:port]/export[?uid=N&gid=N&nfsport=N&mountport=N&stable=how]
//
// uid and gid default to the calling process's. The port, when present, is
// the portmapper's. nfsport and mountport pin the NFS and MOUNT ports and
// skip the portmapper lookup for that program.
type URL struct {
	Host      string
	Port      int
	Export    string
	UID       uint32
	GID       uint32
	NFSPort   int
	MountPort int
	Stable    StableHow

	raw string
}

// ParseURL validates and parses a mount URL.
func ParseURL(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{Kind: KindURL, Err: err}
	}
	if u.Scheme != "nfs" {
		return nil, urlError("unsupported scheme")
	}
	if u.User != nil {
		return nil, urlError("either username or password is present")
	}
	if u.Hostname() == "" {
		return nil, urlError("host is missing")
	}
	// url.Parse drops an empty fragment, so look at the raw text.
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return nil, urlError("fragment is present")
	}

	out := &URL{
		Host:   u.Hostname(),
		Export: path.Clean("/" + u.Path),
		UID:    currentID(os.Getuid()),
		GID:    currentID(os.Getgid()),
		raw:    raw,
	}
	if p := u.Port(); p != "" {
		if out.Port, err = parsePort("port", p); err != nil {
			return nil, err
		}
	}

	q := u.Query()
	if v := q.Get("uid"); v != "" {
		if out.UID, err = parseID("uid", v); err != nil {
			return nil, err
		}
	}
	if v := q.Get("gid"); v != "" {
		if out.GID, err = parseID("gid", v); err != nil {
			return nil, err
		}
	}
	if v := q.Get("nfsport"); v != "" {
		if out.NFSPort, err = parsePort("nfsport", v); err != nil {
			return nil, err
		}
	}
	if v := q.Get("mountport"); v != "" {
		if out.MountPort, err = parsePort("mountport", v); err != nil {
			return nil, err
		}
	}
	if v := q.Get("stable"); v != "" {
		how, ok := ParseStableHow(v)
		if !ok {
			return nil, urlError(fmt.Sprintf("invalid stable %q", v))
		}
		out.Stable = how
	}
	return out, nil
}

// String returns the URL as it was parsed.
func (u *URL) String() string { return u.raw }

// Addr joins Host with port.
func (u *URL) Addr(port int) string {
	return net.JoinHostPort(u.Host, strconv.Itoa(port))
}

func parsePort(name, v string) (int, error) {
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil || n == 0 {
		return 0, urlError(fmt.Sprintf("invalid %s %q", name, v))
	}
	return int(n), nil
}

func parseID(name, v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, urlError(fmt.Sprintf("invalid %s %q", name, v))
	}
	return uint32(n), nil
}

// currentID maps the -1 that os.Getuid returns on some platforms to nobody.
func currentID(id int) uint32 {
	if id < 0 {
		return 65534
	}
	return uint32(id)
}
