package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alitto/pond/v2"

	"github.com/mechanism-s/silkrpc/chain"
	"github.com/mechanism-s/silkrpc/evmrpc"
	"github.com/mechanism-s/silkrpc/globals"
	"github.com/mechanism-s/silkrpc/http_pack"
	"github.com/mechanism-s/silkrpc/kv"
	"github.com/mechanism-s/silkrpc/kvserver"
	"github.com/mechanism-s/silkrpc/structures"
	"github.com/mechanism-s/silkrpc/utils"
	"github.com/mechanism-s/silkrpc/websocket_pack"
)

func main() {

	if err := globals.LoadConfiguration(); err != nil {
		utils.LogWithTime(fmt.Sprintf("Failed to load configuration: %v", err), utils.RED_COLOR)
		os.Exit(1)
	}

	RunDaemon()
}

func RunDaemon() {

	config := &globals.CONFIGURATION

	kvUrl, err := prepareKvEndpoint(config)
	if err != nil {
		utils.LogWithTime(fmt.Sprintf("Failed to prepare KV endpoint: %v", err), utils.RED_COLOR)
		utils.GracefulShutdown()
		return
	}

	workers := pond.NewPool(config.Workers)
	utils.RegisterShutdownHook(func() { workers.StopAndWait() })

	evmrpc.Setup(&evmrpc.Backend{
		ChainConfig: globals.CHAIN_CONFIG,
		Cache:       chain.NewBlockCache(config.CacheSize),
		Workers:     workers,
		OpenTx: func() *kv.RemoteTransaction {
			return kv.NewRemoteTransaction(kv.NewWebsocketStreamingClient(kvUrl))
		},
	}, config.Contexts)

	utils.LogWithTime(fmt.Sprintf("Serving chain id %d via %s with %d workers / %d contexts",
		config.ChainId, kvUrl, config.Workers, config.Contexts), utils.GREEN_COLOR)

	go handleStopSignals()

	//___________________ RUN SERVERS - WEBSOCKET AND HTTP __________________

	go websocket_pack.CreateWebsocketServer()

	http_pack.CreateHTTPServer()
}

// prepareKvEndpoint returns the remote KV url, spinning up the local dev
// server first when the configuration asks for one.
func prepareKvEndpoint(config *structures.DaemonConfig) (string, error) {

	if config.KvUrl != "" {
		return config.KvUrl, nil
	}

	if config.LocalKvPath == "" {
		return "", fmt.Errorf("neither KV_URL nor LOCAL_KV_PATH is configured")
	}

	store, err := kvserver.OpenStore(config.LocalKvPath)
	if err != nil {
		return "", err
	}

	server := kvserver.NewServer(store)
	addr := fmt.Sprintf("%s:%d", config.LocalKvInterface, config.LocalKvPort)
	if config.LocalKvInterface == "" {
		addr = fmt.Sprintf("localhost:%d", config.LocalKvPort)
	}
	if err := server.Start(addr); err != nil {
		_ = store.Close()
		return "", err
	}

	utils.RegisterShutdownHook(func() {
		_ = server.Close()
		_ = store.Close()
	})

	utils.LogWithTime(fmt.Sprintf("Local KV server is serving %s at %s ...✅", config.LocalKvPath, server.URL()), utils.CYAN_COLOR)

	return server.URL(), nil
}

func handleStopSignals() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	utils.GracefulShutdown()
}
