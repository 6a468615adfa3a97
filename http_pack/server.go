package http_pack

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/mechanism-s/silkrpc/evmrpc"
	"github.com/mechanism-s/silkrpc/globals"
	"github.com/mechanism-s/silkrpc/utils"
)

func createRouter() fasthttp.RequestHandler {

	r := router.New()

	r.POST("/", handleJsonRpc)

	return r.Handler
}

func handleJsonRpc(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")

	body := ctx.PostBody()

	// Batch requests arrive as a JSON array.
	if len(body) > 0 && body[0] == '[' {
		var batch []evmrpc.Request
		if err := json.Unmarshal(body, &batch); err != nil {
			ctx.SetBody(evmrpc.ErrorResponse(nil, -32700, "Parse error"))
			return
		}
		responses := make([]json.RawMessage, 0, len(batch))
		for _, req := range batch {
			responses = append(responses, evmrpc.Handle(req))
		}
		out, _ := json.Marshal(responses)
		ctx.SetBody(out)
		return
	}

	var req evmrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		ctx.SetBody(evmrpc.ErrorResponse(nil, -32700, "Parse error"))
		return
	}
	ctx.SetBody(evmrpc.Handle(req))
}

func CreateHTTPServer() {

	serverAddr := globals.CONFIGURATION.Interface + ":" + strconv.Itoa(globals.CONFIGURATION.Port)

	utils.LogWithTime(fmt.Sprintf("JSON-RPC server is starting at http://%s ...✅", serverAddr), utils.CYAN_COLOR)

	if err := fasthttp.ListenAndServe(serverAddr, createRouter()); err != nil {
		utils.LogWithTime(fmt.Sprintf("Error in server: %s", err), utils.RED_COLOR)
	}
}
