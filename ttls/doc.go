// Package ttls terminates TLS on connector endpoints.
//
// The ssl connection factory performs the handshake and continues with the
// next protocol of the connector on the decrypted endpoint:
//
//	c := connector.NewServerConnector(":8443", connector.Config{
//		Factories: []connector.ConnectionFactory{
//			ttls.NewFactory(negotiate.ALPNProtocol, ttls.Config{Reloader: reloader}),
//			negotiate.NewALPN(thttp.HTTP1, thttp.H2, thttp.HTTP1),
//			thttp.NewH2Factory(thttp.Config{}),
//			thttp.NewHTTP1Factory(thttp.Config{}),
//		},
//	})
package ttls
