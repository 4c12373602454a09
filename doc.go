// Package httpipe is an asynchronous HTTP/1.1 client pipeline engine: a
// Pipeline fans Calls out to per-origin queues of pipelined Connections,
// handling the reconnect/retry policy, redirects, and Basic/Digest
// authentication, while never performing blocking I/O outside of a unit of
// work registered on a Reactor (see package reactor).
//
// A minimal round trip:
//
//	pl := httpipe.NewPipeline(httpipe.DefaultOptions(), nil)
//	call, _ := httpipe.NewCall(httpipe.MethodGET, "http://example.com/", nil, nil, 0, httpipe.CallOptions{})
//	pl.Add(call)
//	pl.Run(context.Background())
//	fmt.Println(call.Status(), call.StatusCode())
//
// The supporting packages (codec, auth, connpool, proxyenv, reactor,
// typedpipe) are usable independently; Pipeline is the component that wires
// them together into the engine spec.md describes.
package httpipe
