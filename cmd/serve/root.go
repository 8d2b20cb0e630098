package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dEdit/cmd/util"
	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/common"
	"github.com/ValentinKolb/dEdit/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dEdit server",
		Long:    `Start the dEdit server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DEDIT_<flag> (e.g. DEDIT_STEAL_WINDOW=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080 for ws and tcp, /tmp/dedit.sock for unix)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for handling a request and writing to a client"))

	key = "steal-window"
	ServeCmd.PersistentFlags().Int64(key, 30, cmdUtil.WrapString("Seconds the holder has to answer a steal request before it is accepted implicitly"))

	key = "cleanup-window"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Seconds the holder has to flush its content after a steal was accepted"))

	key = "outbox-size"
	ServeCmd.PersistentFlags().Int(key, 256, cmdUtil.WrapString("Number of undelivered events buffered per session before events are dropped"))

	key = "flush-url"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Webhook called with {documentId, membershipId} when a holder has to flush. Without it every hand-off waits for the full cleanup window"))

	key = "members-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("YAML or JSON file mapping documents to the memberships allowed to edit them. Without it every membership may edit every document"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Separate address for /metrics and /healthz (tcp and unix transports, the ws transport serves them itself)"))

	key = "allowed-origins"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of origins accepted by the ws transport besides the server's own host (* accepts all)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("The keepalive interval in seconds, 0 disables it (only for tcp)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport = viper.GetString("transport")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.StealWindowSecond = viper.GetInt64("steal-window")
	serveCmdConfig.CleanupWindowSecond = viper.GetInt64("cleanup-window")
	serveCmdConfig.OutboxSize = viper.GetInt("outbox-size")
	serveCmdConfig.FlushURL = viper.GetString("flush-url")
	serveCmdConfig.MembersFile = viper.GetString("members-file")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.AllowedOrigins = nil
	for _, origin := range strings.Split(viper.GetString("allowed-origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			serveCmdConfig.AllowedOrigins = append(serveCmdConfig.AllowedOrigins, origin)
		}
	}

	if serveCmdConfig.StealWindowSecond <= 0 || serveCmdConfig.CleanupWindowSecond <= 0 {
		return fmt.Errorf("steal-window and cleanup-window must be positive")
	}

	return nil
}

// run starts the dEdit server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	coordinator, err := newCoordinator(serveCmdConfig)
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s, coordinator)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		server.Logger.Infof("Received %s, shutting down", sig)
		_ = serv.Close()
	}()

	return serv.Serve()
}

// newCoordinator creates the coordinator with the configured collaborators
func newCoordinator(config *common.ServerConfig) (*lockmgr.Coordinator, error) {
	var opts []lockmgr.Option

	if config.MembersFile != "" {
		authz, err := lockmgr.LoadStaticAuthorizer(config.MembersFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lockmgr.WithAuthorizer(authz))
	}

	if config.FlushURL != "" {
		// the coordinator bounds the flush by the cleanup window, the client
		// timeout only guards against a hanging connection
		timeout := time.Duration(config.CleanupWindowSecond+1) * time.Second
		opts = append(opts, lockmgr.WithFlusher(lockmgr.NewWebhookFlusher(config.FlushURL, timeout)))
	}

	return lockmgr.NewCoordinator(config.LockConfig(), opts...), nil
}
