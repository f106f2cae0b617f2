// Package connector accepts transport connections and turns them into
// protocol connections.
//
// A Connector owns a Transport, a set of acceptor goroutines, a registry of
// connection factories keyed by protocol name, and the resources connections
// share: an Executor, a Scheduler for idle timeouts and a BufferPool.
//
// Every accepted connection becomes an Endpoint. The factory of the default
// protocol builds a Connection for it, and the executor runs the
// connection's Serve method until the endpoint closes. Factories may chain:
// a TLS factory decrypts the endpoint and asks the connector for the
// connection of its next protocol, a negotiating factory picks the next
// protocol at run time.
//
//	c := connector.NewServerConnector("tcp::8080", connector.Config{
//	    Name:   "main",
//	    Server: root,
//	    Factories: []connector.ConnectionFactory{
//	        thttp.NewHTTP1Factory(thttp.Config{}),
//	    },
//	})
//	return c.Run(ctx)
package connector
