package constants

// Tables served by the remote KV store. The names are part of the wire
// contract with the execution node: OPEN frames carry them verbatim.
const (
	TableSyncStage       = "SyncStage"
	TableCanonicalHeader = "CanonicalHeader"
	TableHeaderNumber    = "HeaderNumber"
	TableHeader          = "Header"
	TableBlockBody       = "BlockBody"
	TableTxLookup        = "TxLookup"
	TablePlainState      = "PlainState" // dup-sort: storage lives under addr+incarnation
	TableCode            = "Code"
	TableIncarnationMap  = "IncarnationMap"
)

// DupSortTables lists the tables the dev KV server must treat as dup-sorted.
var DupSortTables = map[string]bool{
	TablePlainState: true,
}

// Staged-sync stage names. Keys in TableSyncStage; values are 8-byte
// big-endian block numbers written by the execution node.
const (
	StageHeaders   = "Headers"
	StageExecution = "Execution"
	StageFinish    = "Finish"
)

// Named block ids accepted by the block number resolver.
const (
	EarliestBlockId = "earliest"
	LatestBlockId   = "latest"
	PendingBlockId  = "pending"
)

const EarliestBlockNumber = uint64(0)

// Websocket route the dev KV server mounts the stream endpoint on.
const KvStreamRoute = "/tx"

// Defaults applied when the configuration leaves a value unset: block cache
// capacity, CPU worker count and I/O context count.
const (
	DefaultBlockCacheSize = 1024
	DefaultWorkers        = 4
	DefaultContexts       = 1
)

// ClientVersion is reported by web3_clientVersion.
const ClientVersion = "silkrpc-go/0.1"
