package websocket_pack

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lxzan/gws"

	"github.com/mechanism-s/silkrpc/evmrpc"
	"github.com/mechanism-s/silkrpc/globals"
	"github.com/mechanism-s/silkrpc/utils"
)

// rpcHandler serves JSON-RPC over websocket text frames, one request per
// message.
type rpcHandler struct {
	gws.BuiltinEventHandler
}

func (h *rpcHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req evmrpc.Request
	if err := json.Unmarshal(message.Bytes(), &req); err != nil {
		_ = socket.WriteMessage(gws.OpcodeText, evmrpc.ErrorResponse(nil, -32700, "Parse error"))
		return
	}
	_ = socket.WriteMessage(gws.OpcodeText, evmrpc.Handle(req))
}

func CreateWebsocketServer() {

	serverAddr := globals.CONFIGURATION.WebSocketInterface + ":" + strconv.Itoa(globals.CONFIGURATION.WebSocketPort)

	upgrader := gws.NewUpgrader(&rpcHandler{}, &gws.ServerOption{
		ParallelEnabled: true,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	})

	utils.LogWithTime(fmt.Sprintf("Websocket JSON-RPC server is starting at ws://%s ...✅", serverAddr), utils.CYAN_COLOR)

	if err := http.ListenAndServe(serverAddr, mux); err != nil {
		utils.LogWithTime(fmt.Sprintf("Error in websocket server: %s", err), utils.RED_COLOR)
	}
}
