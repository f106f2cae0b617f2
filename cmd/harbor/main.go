// Command harbor runs a server configured by a YAML file or by the command
// line.
//
// Without --config it serves a demo application on a single connector:
// GET /hello greets the client and /ws echoes WebSocket messages back. The
// management API is available under /admin.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ridge/harbor"
	"github.com/ridge/harbor/config"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/run"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/harbor/tws"
	"github.com/ridge/must/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configFile := pflag.String("config", "", "YAML configuration file")
	addr := pflag.String("addr", "localhost:8080", "Address to listen on without --config")
	acceptors := pflag.Int("acceptors", 0, "Number of acceptors, 0 for the machine default")
	tlsCert := pflag.String("tls-cert", "", "TLS certificate file")
	tlsKey := pflag.String("tls-key", "", "TLS private key file")
	selfSigned := pflag.Bool("tls-self-signed", false, "Serve TLS with a generated self-signed certificate")
	cors := pflag.Bool("cors", false, "Allow cross-origin HTTP requests")
	logBodies := pflag.Bool("log-bodies", false, "Log HTTP request and response bodies at debug level")
	pflag.Parse()

	var cfg config.Config
	if *configFile != "" {
		cfg = must.OK1(config.Load(*configFile))
	} else {
		cfg = flagConfig(*addr, *acceptors, *tlsCert, *tlsKey, *selfSigned)
		must.OK(cfg.Validate())
	}
	httpFlags(&cfg, *cors, *logBodies)

	run.ServerWithLogging(cfg.Logging, func(ctx context.Context) error {
		s, err := harbor.FromConfig(ctx, cfg, demo())
		if err != nil {
			return err
		}
		return s.Run(ctx)
	})
}

func flagConfig(addr string, acceptors int, cert, key string, selfSigned bool) config.Config {
	c := config.Connector{
		Name:      "public",
		Address:   addr,
		Acceptors: acceptors,
		Protocols: config.DefaultProtocols,
	}
	if cert != "" || key != "" || selfSigned {
		c.Protocols = []string{"detect", "ssl", "alpn", "h2", "http/1.1"}
		c.TLS = &config.TLS{Cert: cert, Key: key, SelfSigned: selfSigned}
	}
	return config.Config{
		Connectors: []config.Connector{c},
		Admin:      &config.Admin{Path: "/admin"},
	}
}

// httpFlags turns on HTTP middleware for all connectors
func httpFlags(cfg *config.Config, cors, logBodies bool) {
	for i := range cfg.Connectors {
		hc := &cfg.Connectors[i].HTTP
		hc.CORS = hc.CORS || cors
		hc.LogBodies = hc.LogBodies || logBodies
	}
}

func demo() handler.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		tlog.Get(r.Context()).Debug("Greeting", zap.String("remote", r.RemoteAddr))
		fmt.Fprintf(w, "Hello over %s\n", r.Proto)
	}).Methods(http.MethodGet)

	ws := tws.NewHandler(tws.Config{PingInterval: 30 * time.Second, RequirePong: true}, tws.Echo)
	return handler.NewList(handler.NewContext("/ws", ws), handler.HTTP(router))
}
