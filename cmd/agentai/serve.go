package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jazzman94/agentai/internal/config"
	"github.com/Jazzman94/agentai/internal/gateway/httpapi"
	"github.com/Jazzman94/agentai/internal/ratelimit"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operations over the HTTP API",
	Long: `Start the HTTP API gateway. Calls are accepted on POST /v1/calls and
POST /v1/calls/batch, and streamed over the /v1/stream websocket. Requests
are authenticated with a Bearer API key from gateways.http.api_key_user_mapping
or AGENTAI_API_KEY.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
}

func runServe(_ *cobra.Command, _ []string) error {
	sc, err := setupCommand()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	cfg := sc.Config
	httpCfg := cfg.Gateways.HTTP
	if httpCfg == nil {
		httpCfg = &config.HTTPGatewayConfig{}
	}
	if len(httpCfg.APIKeyUserMapping) == 0 {
		return fmt.Errorf("no API keys configured: set gateways.http.api_key_user_mapping or AGENTAI_API_KEY")
	}
	addr := cfg.ListenAddr()
	if servePort != "" {
		addr = servePort
	}

	var limiter *ratelimit.Limiter
	if rl := httpCfg.RateLimit; rl != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		})
	}

	gwCfg := httpapi.Config{
		ListenAddr:     addr,
		EnableDocs:     httpCfg.EnableDocs,
		APIKeys:        httpCfg.APIKeyUserMapping,
		MaxRequestSize: httpCfg.MaxRequestSizeBytes,
		HealthChecker:  sc.Obs.HealthOrNil(),
		Metrics:        sc.Obs.MetricsOrNil(),
		Tracer:         sc.Obs.TraceAPI(),
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		gwCfg.MetricsRegistry = m.Registry
		if o := cfg.Observability; o != nil && o.Metrics != nil {
			gwCfg.MetricsPath = o.Metrics.Path
		}
	}
	gw := httpapi.NewGateway(gwCfg, sc.Dispatcher, sc.Workspace.Root, limiter, sc.Logger)
	return runGateway(sc, "http", gw)
}
