// Package harbor assembles connectors and a handler tree into a server.
//
// A Server is the root of the handler tree: requests received by any of its
// connectors are dispatched to it. Connectors accept connections, hand them
// to connection factories by protocol and run the resulting connections; the
// HTTP factories of package thttp turn requests into calls of the tree.
//
//	s := harbor.NewServer(harbor.Config{Name: "main"})
//	must.OK(s.SetHandler(handler.NewList(
//		handler.NewContext("/ws", tws.NewHandler(tws.DefaultConfig, tws.Echo)),
//		handler.HTTP(router),
//	)))
//	must.OK(s.AddConnector(ctx, connector.NewServerConnector(":8080", s.Configure(connector.Config{
//		Name: "public",
//		Factories: []connector.ConnectionFactory{
//			thttp.NewHTTP1Factory(thttp.Config{}),
//			thttp.NewH2CFactory(thttp.Config{}),
//		},
//	}))))
//	run.Server(s.Run)
//
// # Lifecycle
//
// Start starts the handler tree, then the connectors, so that nothing is
// accepted before the handlers are ready. Stop reverses it: all connectors
// stop accepting first, then they are stopped one by one, closing their
// endpoints, then the handler tree is stopped.
//
// The handler tree can only be replaced while the server is stopped.
// Connectors can be added and removed at any time; a connector added to a
// running server is started immediately.
//
// # Configuration
//
// FromConfig builds a server from a configuration file loaded by package
// config: connectors with their protocol stacks, TLS certificates, static
// file contexts and the management API.
//
// # Management
//
// AdminRouter serves a read-only JSON view of the server: its connectors,
// their endpoints and the handler tree. FromConfig mounts it under a context
// path, optionally restricted to some connectors.
package harbor
