package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/testprojbuilds/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketIOEventName is the event emitted for every state transition.
const SocketIOEventName = "tpb_event"

// SocketIOOptions configures the dashboard connection.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketIOPublisher streams events to a socket.io server.
type SocketIOPublisher struct {
	client *socket.Socket
}

// DialSocketIO connects to the server and waits for the handshake.
func DialSocketIO(ctx context.Context, o SocketIOOptions) (*SocketIOPublisher, error) {
	logger := ctxlog.FromContext(ctx).With("publisher", "socketio", "url", o.URL)

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid events URL %q: scheme and host are required", o.URL)
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	nsp := o.Namespace
	if nsp == "" {
		nsp = "/"
	}
	io := manager.Socket(nsp, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to events server.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, ok := errs[0].(error)
		if !ok {
			err = fmt.Errorf("%v", errs[0])
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOPublisher{client: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// ConnectOrNop dials the server and falls back to a Nop publisher, with a
// warning, when the server is unreachable. The returned close function is
// always safe to call.
func ConnectOrNop(ctx context.Context, o SocketIOOptions) (Publisher, func()) {
	p, err := DialSocketIO(ctx, o)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Events server unavailable, live events disabled.", "url", o.URL, "error", err)
		return Nop{}, func() {}
	}
	return p, p.Close
}

func (p *SocketIOPublisher) Publish(ctx context.Context, ev Event) {
	if !p.client.Connected() {
		ctxlog.FromContext(ctx).Debug("Events server disconnected, event dropped.", "variant", ev.Variant, "state", ev.State)
		return
	}
	p.client.Emit(SocketIOEventName, payload(ev))
}

func (p *SocketIOPublisher) Close() {
	p.client.Disconnect()
}

// payload is the wire form: a plain map, which the client serialises as a
// JSON object.
func payload(ev Event) map[string]any {
	m := map[string]any{
		"run_id":  ev.RunID,
		"variant": ev.Variant,
		"state":   ev.State,
		"final":   ev.Final,
		"success": ev.Success,
		"time":    ev.Time.Format(time.RFC3339Nano),
	}
	if ev.Phase != "" {
		m["phase"] = string(ev.Phase)
	}
	if ev.Message != "" {
		m["message"] = ev.Message
	}
	return m
}
