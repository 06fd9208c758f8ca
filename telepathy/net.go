package telepathy

import (
	"net"
	"strconv"
)

func HostAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// remoteIP returns the IP of the peer of conn, or "" if unknown.
func remoteIP(conn net.Conn) string {
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.IP.String()
	case nil:
		return ""
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return ""
		}
		return host
	}
}

func applySocketOptions(conn net.Conn, cfg Config) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tcp.SetNoDelay(cfg.NoDelay)
}
