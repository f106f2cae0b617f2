// Package thttp serves HTTP on connector endpoints and contains HTTP
// middleware and client utilities.
//
// # Connection factories
//
// HTTP1Factory runs a single http.Server for all the endpoints it is given.
// The server is started and shut down gracefully together with the
// connector owning the factory, and every request context inherits the
// context passed to Start, thus supporting the global expectation that every
// context contains a logger.
//
// H2Factory serves HTTP/2 on endpoints negotiated through TLS ALPN.
// H2CFactory serves cleartext HTTP/2 either with prior knowledge or after an
// HTTP/1.1 "Upgrade: h2c" request.
//
// All of them pass requests to Dispatch, which calls the handler tree of the
// connector that accepted the endpoint.
//
// # Example
//
//	func Run(ctx context.Context, root handler.Handler) error {
//	    c := connector.NewServerConnector("tcp::8080", connector.Config{
//	        Name:   "main",
//	        Server: root,
//	        Factories: []connector.ConnectionFactory{
//	            thttp.NewHTTP1Factory(thttp.Config{}),
//	            thttp.NewH2CFactory(thttp.Config{}),
//	        },
//	    })
//	    return c.Run(ctx)
//	}
//
// # Middleware
//
// Log, Recover, CORS and LogBodies are regular func(http.Handler)
// http.Handler middleware, composable with Wrap. Config.Middleware selects
// the ones installed around Dispatch.
//
// # Testing
//
// NewLocalClient and NewLocalH2CClient send requests to a connector over its
// in-memory transport. Test and TestCtx run a plain http.Handler without any
// connector at all.
package thttp
