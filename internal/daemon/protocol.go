package daemon

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// ProtocolVersion identifies the wire format so a future incompatible
// change can be rejected cleanly instead of producing a garbled decode.
const ProtocolVersion = 1

// RequestKind is the closed set of messages a client may send (spec.md §4.H).
type RequestKind string

const (
	ReqPing            RequestKind = "ping"
	ReqStop            RequestKind = "stop"
	ReqSubscribeStatus RequestKind = "subscribe_status"
	ReqSubscribeLogs   RequestKind = "subscribe_logs"
	ReqUnsubscribe     RequestKind = "unsubscribe"
	ReqStartWithConfig RequestKind = "start_with_config"
)

// ResponseKind is the closed set of messages the daemon may send back.
type ResponseKind string

const (
	RespPong          ResponseKind = "pong"
	RespOk            ResponseKind = "ok"
	RespError         ResponseKind = "error"
	RespLogLine       ResponseKind = "log_line"
	RespStatusUpdate  ResponseKind = "status_update"
)

// Request is one length-prefixed, gob-framed client message.
type Request struct {
	Kind   RequestKind
	Config RunConfig // only meaningful for ReqStartWithConfig
}

// RunConfig is the subset of workspace configuration a client may send
// with StartWithConfig. The daemon acknowledges that request without
// applying these values.
type RunConfig struct {
	RepoRoot            string
	MaxParallelSessions int
	PollIntervalMS      int
	StatusIntervalMS    int
	AutoMergeDefault    bool
	ForceNoMerge        bool
}

// Response is one length-prefixed, gob-framed server message.
type Response struct {
	Kind ResponseKind

	Message string // RespError
	Line    string // RespLogLine

	Executing int // RespStatusUpdate
	Pending   int
	Completed int
	Blocked   int
}

// frame is the length-prefixed envelope both directions share: a 4-byte
// big-endian length followed by a gob-encoded payload. Framing (rather
// than relying on gob's own stream boundaries) lets a reader detect and
// skip a corrupt frame instead of desyncing the whole connection,
// mirroring the teacher's preference for explicit binary framing over a
// bare streaming codec.
func writeFrame(w io.Writer, v interface{}) error {
	buf := new(bytes.Buffer)
	enc := gob.NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("daemon: encode frame: %w", err)
	}
	payload := buf.Bytes()
	length := uint32(len(payload))
	header := [4]byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("daemon: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("daemon: write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	if length > maxFrameBytes {
		return fmt.Errorf("daemon: frame of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("daemon: read frame payload: %w", err)
	}
	dec := gob.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("daemon: decode frame: %w", err)
	}
	return nil
}

const maxFrameBytes = 8 << 20 // 8 MiB; generous for a log-line/status message

// WriteRequest and ReadResponse are the client-side half of the protocol,
// used by cmd/loom.
func WriteRequest(conn net.Conn, req Request) error  { return writeFrame(conn, req) }
func ReadResponse(conn net.Conn) (Response, error) {
	var resp Response
	err := readFrame(conn, &resp)
	return resp, err
}

func writeResponse(w io.Writer, resp Response) error { return writeFrame(w, resp) }
func readRequest(r io.Reader) (Request, error) {
	var req Request
	err := readFrame(r, &req)
	return req, err
}
