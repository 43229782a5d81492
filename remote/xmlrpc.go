package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/rpc"
	"regexp"
	"strconv"
	"sync"

	"github.com/kolo/xmlrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// XMLRPC is a Caller speaking XML-RPC to a Nitrate server.
type XMLRPC struct {
	url    string
	client *xmlrpc.Client
	mu     sync.Mutex
	closed bool
}

// DialOption configures an XMLRPC caller.
type DialOption func(*dialConfig)

type dialConfig struct {
	transport http.RoundTripper
}

// WithTransport replaces the HTTP transport. The default is an
// instrumented http.DefaultTransport.
func WithTransport(rt http.RoundTripper) DialOption {
	return func(c *dialConfig) { c.transport = rt }
}

// Dial creates an XML-RPC caller for the server at url.
func Dial(url string, opts ...DialOption) (*XMLRPC, error) {
	cfg := dialConfig{transport: otelhttp.NewTransport(http.DefaultTransport)}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := xmlrpc.NewClient(url, cfg.transport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &XMLRPC{url: url, client: client}, nil
}

// URL returns the server address.
func (x *XMLRPC) URL() string {
	return x.url
}

// Call issues method with positional params.
func (x *XMLRPC) Call(ctx context.Context, method string, params ...any) (any, error) {
	x.mu.Lock()
	closed := x.closed
	x.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	args := make([]any, len(params))
	copy(args, params)

	// The client has no context support, so wait on it in a goroutine.
	type callResult struct {
		reply any
		err   error
	}
	ch := make(chan callResult, 1)
	go func() {
		var reply any
		err := x.client.Call(method, args, &reply)
		ch <- callResult{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, translateFault(res.err)
		}
		return res.reply, nil
	}
}

// Close releases the underlying client.
func (x *XMLRPC) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.client.Close()
}

var faultPattern = regexp.MustCompile(`^(?:Fault\()?(-?\d+)\)?:\s*(.*)$`)

// translateFault turns the client's fault representations into *Fault.
// Transport errors pass through unchanged.
func translateFault(err error) error {
	var fe xmlrpc.FaultError
	if errors.As(err, &fe) {
		return &Fault{Code: fe.Code, Message: fe.String}
	}
	var se rpc.ServerError
	if errors.As(err, &se) {
		if m := faultPattern.FindStringSubmatch(string(se)); m != nil {
			code, _ := strconv.Atoi(m[1])
			return &Fault{Code: code, Message: m[2]}
		}
		return &Fault{Message: string(se)}
	}
	return err
}
