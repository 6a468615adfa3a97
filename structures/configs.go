package structures

type DaemonConfig struct {
	ChainId            uint64 `json:"CHAIN_ID"`
	KvUrl              string `json:"KV_URL"`
	Workers            int    `json:"WORKERS"`
	Contexts           int    `json:"CONTEXTS"`
	CacheSize          int    `json:"CACHE_SIZE"`
	Interface          string `json:"INTERFACE"`
	Port               int    `json:"PORT"`
	WebSocketInterface string `json:"WEBSOCKET_INTERFACE"`
	WebSocketPort      int    `json:"WEBSOCKET_PORT"`
	LocalKvPath        string `json:"LOCAL_KV_PATH"`
	LocalKvInterface   string `json:"LOCAL_KV_INTERFACE"`
	LocalKvPort        int    `json:"LOCAL_KV_PORT"`
}
