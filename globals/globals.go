package globals

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/params"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/structures"
)

var CONFIGURATION structures.DaemonConfig

// CHAIN_CONFIG is resolved once from CONFIGURATION.ChainId at startup and
// never mutated afterwards. It is shared by reference across all handlers.
var CHAIN_CONFIG *params.ChainConfig

// Known chain configs, indexed by chain id. Process-wide immutable table.
var chainConfigs = map[uint64]*params.ChainConfig{
	params.MainnetChainConfig.ChainID.Uint64(): params.MainnetChainConfig,
	params.SepoliaChainConfig.ChainID.Uint64(): params.SepoliaChainConfig,
	params.HoleskyChainConfig.ChainID.Uint64(): params.HoleskyChainConfig,
	params.HoodiChainConfig.ChainID.Uint64():   params.HoodiChainConfig,
}

// LookupChainConfig returns the config registered for chainId, or a copy of
// the mainnet fork schedule carrying the requested id for private networks.
func LookupChainConfig(chainId uint64) *params.ChainConfig {
	if cfg, ok := chainConfigs[chainId]; ok {
		return cfg
	}
	cfg := *params.MainnetChainConfig
	cfg.ChainID = new(big.Int).SetUint64(chainId)
	return &cfg
}

func LoadConfiguration() error {

	configsPath := os.Getenv("CONFIGS_PATH")

	if configsPath == "" {
		return fmt.Errorf("CONFIGS_PATH env variable is not set")
	}

	raw, err := os.ReadFile(configsPath)

	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := json.Unmarshal(raw, &CONFIGURATION); err != nil {
		return fmt.Errorf("unmarshal config file: %w", err)
	}

	applyDefaults()

	CHAIN_CONFIG = LookupChainConfig(CONFIGURATION.ChainId)

	return nil
}

func applyDefaults() {
	if CONFIGURATION.ChainId == 0 {
		CONFIGURATION.ChainId = 1
	}
	if CONFIGURATION.Workers <= 0 {
		CONFIGURATION.Workers = constants.DefaultWorkers
	}
	if CONFIGURATION.Contexts <= 0 {
		CONFIGURATION.Contexts = constants.DefaultContexts
	}
	if CONFIGURATION.CacheSize <= 0 {
		CONFIGURATION.CacheSize = constants.DefaultBlockCacheSize
	}
	if CONFIGURATION.Interface == "" {
		CONFIGURATION.Interface = "localhost"
	}
	if CONFIGURATION.Port == 0 {
		CONFIGURATION.Port = 8545
	}
	if CONFIGURATION.WebSocketInterface == "" {
		CONFIGURATION.WebSocketInterface = CONFIGURATION.Interface
	}
	if CONFIGURATION.WebSocketPort == 0 {
		CONFIGURATION.WebSocketPort = 8546
	}
}
