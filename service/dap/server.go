// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows frinspect to communicate with frontends using DAP
// without a separate adaptor. The frontend will run the inspector
// (which doubles as an adaptor) in server mode listening on
// a port and communicating over TCP. The memory image is opened on the
// command line before the server starts, launch and attach requests
// only acknowledge it.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/google/go-dap"

	"github.com/framepac/frinspect/pkg/config"
	"github.com/framepac/frinspect/pkg/inspect"
	"github.com/framepac/frinspect/pkg/logflags"
	"github.com/framepac/frinspect/pkg/proc"
	"github.com/framepac/frinspect/service"
)

// maxReadMemory bounds the number of bytes returned by one readMemory
// request.
const maxReadMemory = 1 << 16

// Server implements a DAP server that can accept a single client for
// a single inspection session. It does not support restarting.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request and sends back events and
// responses.
type Server struct {
	// config is all the information necessary to start the server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// disp decodes objects in the memory image.
	disp *inspect.Dispatcher
	// log is used for structured logging.
	log logflags.Logger
	// valueHandles maps decoded containers to the references handed out in
	// evaluate and variables responses.
	valueHandles *valuesHandlesMap
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	return &Server{
		config:       config,
		listener:     config.Listener,
		stopChan:     make(chan struct{}),
		disp:         config.Dispatcher,
		log:          logger,
		valueHandles: newValuesHandlesMap(),
	}
}

// Stop stops the DAP service, closes the listener, the client connection
// and the memory image. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	if s.config.Source != nil {
		if err := s.config.Source.Close(); err != nil {
			s.log.Error(err)
		}
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). It can be called multiple times, it is only called from the
// run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
		if _, ok := request.(*dap.DisconnectRequest); ok {
			return
		}
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		// Required
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		// Required
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		// Required
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		// Required
		s.onDisconnectRequest(request)
	case *dap.ConfigurationDoneRequest:
		// Optional (capability ‘supportsConfigurationDoneRequest’)
		s.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		// Required
		s.onThreadsRequest(request)
	case *dap.EvaluateRequest:
		// Required
		s.onEvaluateRequest(request)
	case *dap.VariablesRequest:
		// Required
		s.onVariablesRequest(request)
	case *dap.ReadMemoryRequest:
		// Optional (capability ‘supportsReadMemoryRequest‘)
		s.onReadMemoryRequest(request)
	case *dap.SetBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetExceptionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.NextRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepInRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepOutRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.PauseRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StackTraceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ScopesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetVariableRequest:
		// The memory image is read only.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SourceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisassembleRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.TerminateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.RestartRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.LoadedSourcesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.CompletionsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	dap.WriteProtocolMessage(s.conn, message)
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsReadMemoryRequest = true
	s.send(response)
}

// onLaunchRequest acknowledges the memory image opened on the command line.
func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	s.valueHandles.reset()
	// Notify the client that the inspector is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// onAttachRequest behaves like onLaunchRequest.
// This is a mandatory request to support.
func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	s.valueHandles.reset()
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	// The memory image is released by Stop once the disconnect is signaled.
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
}

// onThreadsRequest reports the single dummy thread, the DAP spec states
// that "even if a debug adapter does not support multiple threads, it
// must implement the threads request and return a single (dummy) thread".
func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "Dummy"}}},
	}
	s.send(response)
}

// parseExpression splits an evaluate expression of the form
// "<address> [type]".
func parseExpression(expr string) (uint64, string, error) {
	fields := config.SplitQuotedFields(expr, '"')
	if len(fields) == 0 || len(fields) > 2 {
		return 0, "", errors.New("expected <address> [type]")
	}
	addr, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid address %q", fields[0])
	}
	var typ string
	if len(fields) == 2 {
		typ = fields[1]
	}
	return addr, typ, nil
}

// onEvaluateRequest decodes the object named by the expression.
// This is a mandatory request to support.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	addr, typ, err := parseExpression(request.Arguments.Expression)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error())
		return
	}
	v := s.disp.Decode(addr, typ)
	value, ref := s.convertValue(&v)
	response := &dap.EvaluateResponse{
		Response: *newResponse(request.Request),
		Body: dap.EvaluateResponseBody{
			Result:             value,
			Type:               v.Type,
			VariablesReference: ref,
			MemoryReference:    memoryReference(&v),
		},
	}
	s.send(response)
}

// onVariablesRequest returns the children of a container handed out by a
// previous evaluate or variables response. Children that were not loaded
// when the container was decoded are enumerated now, as a new request: the
// recursion limit counts again from the expanded container, whose children
// are still rendered in their nested form.
// This is a mandatory request to support.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	v, ok := s.valueHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	if v.Unloaded {
		v.Children = s.disp.Enumerate(v.Addr, v.Type)
		v.Unloaded = false
	}
	children := make([]dap.Variable, 0, len(v.Children))
	for i := range v.Children {
		c := &v.Children[i]
		name := c.Label
		if c.Key != nil {
			name = c.Key.SinglelineString()
		}
		if c.IsEllipsis() {
			name = "..."
		}
		value, ref := s.convertValue(&c.Value)
		children = append(children, dap.Variable{
			Name:               name,
			Value:              value,
			Type:               c.Value.Type,
			VariablesReference: ref,
			MemoryReference:    memoryReference(&c.Value),
		})
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

// convertValue converts v to the value string shown by the client and a
// variables reference. A positive reference signals the client that a
// variables request can be issued to get the children of v, a zero
// reference is used for values that have none.
func (s *Server) convertValue(v *inspect.Value) (value string, variablesReference int) {
	value = v.SinglelineString()
	if !v.Kind.Container() || v.Marker != inspect.MarkerNone {
		return value, 0
	}
	if len(v.Children) == 0 && !v.Unloaded {
		return value, 0
	}
	return value, s.valueHandles.create(v)
}

func memoryReference(v *inspect.Value) string {
	if v.Addr == 0 || v.Marker != inspect.MarkerNone {
		return ""
	}
	return fmt.Sprintf("%#x", v.Addr)
}

// onReadMemoryRequest returns raw bytes of the memory image. A read that
// stops early reports the remaining bytes as unreadable.
func (s *Server) onReadMemoryRequest(request *dap.ReadMemoryRequest) {
	base, err := strconv.ParseUint(request.Arguments.MemoryReference, 0, 64)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", fmt.Sprintf("invalid memory reference %q", request.Arguments.MemoryReference))
		return
	}
	addr := base + uint64(int64(request.Arguments.Offset))
	count := request.Arguments.Count
	if count < 0 || count > maxReadMemory {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", fmt.Sprintf("count %d out of range", count))
		return
	}
	buf := make([]byte, count)
	n := 0
	if count > 0 {
		n, err = s.disp.Memory().ReadMemory(buf, addr)
		if err != nil && n == 0 {
			s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", (&proc.UnreadableError{Addr: addr, Len: count, Err: err}).Error())
			return
		}
	}
	response := &dap.ReadMemoryResponse{
		Response: *newResponse(request.Request),
		Body: dap.ReadMemoryResponseBody{
			Address:         fmt.Sprintf("%#x", addr),
			Data:            base64.StdEncoding.EncodeToString(buf[:n]),
			UnreadableBytes: count - n,
		},
	}
	s.send(response)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
