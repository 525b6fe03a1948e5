package daemon

import (
	"context"
	"io"
	"net"
)

// handleConn services one client connection for its entire lifetime: it
// reads framed requests until the client disconnects or the daemon shuts
// down. Subscriptions are per-connection state — a connection that
// subscribes to status or logs is added to the matching subscriberList and
// removed on exit (spec.md §4.H).
func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer d.statusSubs.remove(conn)
	defer d.logSubs.remove(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				d.logger.Log("daemon: client read error: %v", err)
			}
			return
		}

		if d.dispatch(conn, req) {
			return // ReqStop closes this connection after replying
		}
	}
}

// dispatch handles one request and returns true if the connection should
// close afterward (currently only true for Stop).
func (d *Daemon) dispatch(conn net.Conn, req Request) bool {
	switch req.Kind {
	case ReqPing:
		d.reply(conn, Response{Kind: RespPong})

	case ReqSubscribeStatus:
		d.statusSubs.add(conn)
		d.reply(conn, Response{Kind: RespOk})

	case ReqSubscribeLogs:
		d.logSubs.add(conn)
		d.reply(conn, Response{Kind: RespOk})

	case ReqUnsubscribe:
		d.statusSubs.remove(conn)
		d.logSubs.remove(conn)
		d.reply(conn, Response{Kind: RespOk})

	case ReqStartWithConfig:
		// The daemon already owns one running Orchestrator (spec.md §9
		// "global state"); StartWithConfig on an already-running daemon
		// is a no-op acknowledgement rather than a second Orchestrator.
		d.reply(conn, Response{Kind: RespOk})

	case ReqStop:
		d.reply(conn, Response{Kind: RespOk})
		go func() { _ = d.Shutdown(context.Background()) }()
		return true

	default:
		d.reply(conn, Response{Kind: RespError, Message: "unknown request kind: " + string(req.Kind)})
	}
	return false
}

func (d *Daemon) reply(conn net.Conn, resp Response) {
	if err := writeResponse(conn, resp); err != nil {
		d.logger.Log("daemon: write response error: %v", err)
	}
}
