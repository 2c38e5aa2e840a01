// Package admin is a bare transport shim over the control surface's
// five calls: create_room, register_member, disconnect_member, dump,
// shutdown. It carries one CBOR-encoded Request per QUIC stream and
// replies with one CBOR-encoded Response, translating each into a
// roomset.ManagementTask and waiting on its reply channel. The
// identity, authorization and matchmaking systems that decide
// *whether* a caller may issue a given call are out of scope; this
// package only carries the bytes. It binds its own UDP port directly
// via quic.ListenAddr/quic.DialAddr.
package admin

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	quic "github.com/quic-go/quic-go"

	"github.com/charmbracelet/log"

	"github.com/gameroom/relay/internal/logctx"
	"github.com/gameroom/relay/internal/room"
	"github.com/gameroom/relay/internal/roomset"
)

// RequestKind selects one of the control surface's five calls.
type RequestKind uint8

const (
	CreateRoom RequestKind = iota
	RegisterMember
	DisconnectMember
	Dump
	Shutdown
)

// Request is one control-surface call, CBOR-encoded onto a stream.
type Request struct {
	Kind           RequestKind
	RoomTemplate   room.RoomTemplate
	RoomID         uint64
	MemberTemplate room.MemberTemplate
	MemberID       uint16
}

// Response carries a Request's outcome back; Err is the stringified
// error (if any), since CBOR cannot carry Go's error interface.
type Response struct {
	RoomID     uint64
	MemberID   uint16
	PrivateKey [32]byte
	Snapshot   []byte
	Err        string
}

// Server accepts QUIC connections and dispatches each stream's Request
// onto rooms' management queue.
type Server struct {
	rooms *roomset.RoomSet
	ln    *quic.Listener
	log   *log.Logger
}

// Listen opens a QUIC listener on addr backed by a freshly generated
// self-signed certificate (this shim has no external PKI to present).
func Listen(addr string, rooms *roomset.RoomSet) (*Server, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("admin: tls config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("admin: listen: %w", err)
	}
	return &Server{rooms: rooms, ln: ln, log: logctx.New("admin")}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close shuts the listener down.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream quic.Stream) {
	defer stream.Close()

	body, err := io.ReadAll(stream)
	if err != nil {
		s.log.Warn("admin: read request", "err", err)
		return
	}
	var req Request
	if err := cbor.Unmarshal(body, &req); err != nil {
		s.log.Warn("admin: decode request", "err", err)
		return
	}

	resp := s.dispatch(req)
	enc, err := cbor.Marshal(resp)
	if err != nil {
		s.log.Error("admin: encode response", "err", err)
		return
	}
	if _, err := stream.Write(enc); err != nil {
		s.log.Warn("admin: write response", "err", err)
	}
}

// dispatch translates req into a roomset.ManagementTask, submits it,
// and blocks for its single reply. The task queue is unbounded, but
// each task still completes within one server cycle in practice.
func (s *Server) dispatch(req Request) Response {
	reply := make(chan roomset.ManagementResult, 1)
	task := roomset.ManagementTask{Reply: reply}

	switch req.Kind {
	case CreateRoom:
		task.Kind = roomset.TaskCreateRoom
		task.RoomTemplate = req.RoomTemplate
	case RegisterMember:
		task.Kind = roomset.TaskRegisterMember
		task.RoomID = req.RoomID
		task.MemberTemplate = req.MemberTemplate
	case DisconnectMember:
		task.Kind = roomset.TaskDisconnectMember
		task.RoomID = req.RoomID
		task.MemberID = req.MemberID
	case Dump:
		task.Kind = roomset.TaskDump
		task.RoomID = req.RoomID
	case Shutdown:
		task.Kind = roomset.TaskShutdown
	default:
		return Response{Err: fmt.Sprintf("admin: unknown request kind %d", req.Kind)}
	}

	s.rooms.SubmitTask(task)
	result := <-reply

	resp := Response{
		RoomID:     result.RoomID,
		MemberID:   result.MemberID,
		PrivateKey: result.PrivateKey,
		Snapshot:   result.Snapshot,
	}
	if result.Err != nil {
		resp.Err = result.Err.Error()
	}
	return resp
}

// Call dials addr over QUIC, sends req on a fresh stream, and decodes
// its Response. It exists for tests and for any operator tooling
// driving the control surface directly rather than through a richer
// identity layer.
func Call(ctx context.Context, addr string, req Request) (Response, error) {
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"relay-admin"}}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return Response{}, fmt.Errorf("admin: dial: %w", err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("admin: open stream: %w", err)
	}
	enc, err := cbor.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("admin: encode request: %w", err)
	}
	if _, err := stream.Write(enc); err != nil {
		return Response{}, fmt.Errorf("admin: write request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return Response{}, fmt.Errorf("admin: half-close stream: %w", err)
	}

	body, err := io.ReadAll(stream)
	if err != nil {
		return Response{}, fmt.Errorf("admin: read response: %w", err)
	}
	var resp Response
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("admin: decode response: %w", err)
	}
	if resp.Err != "" {
		return resp, fmt.Errorf("admin: %s", resp.Err)
	}
	return resp, nil
}

// selfSignedTLSConfig mints an ephemeral ECDSA certificate so the
// listener can speak TLS-over-QUIC without an operator-supplied PKI;
// this shim's only caller is the same process's own management layer.
func selfSignedTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"relay-admin"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"relay-admin"}}, nil
}
