package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/rawdb"
	"github.com/mechanism-s/silkrpc/stages"
)

// GetBlockNumber maps a named or numeric block id to a height.
// "earliest" is the genesis block; "latest" and "pending" resolve to the
// progress of the Execution stage; anything else parses as a hex or decimal
// number.
func GetBlockNumber(ctx context.Context, blockId string, reader rawdb.DatabaseReader) (uint64, error) {
	switch blockId {
	case constants.EarliestBlockId:
		return constants.EarliestBlockNumber, nil
	case constants.LatestBlockId, constants.PendingBlockId, "":
		return GetLatestBlockNumber(ctx, reader)
	default:
		base := 10
		s := blockId
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			base = 16
			s = s[2:]
		}
		number, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid block id %q: %w", blockId, err)
		}
		return number, nil
	}
}

// GetLatestBlockNumber is the highest executed block.
func GetLatestBlockNumber(ctx context.Context, reader rawdb.DatabaseReader) (uint64, error) {
	return stages.GetSyncStageProgress(ctx, reader, constants.StageExecution)
}

// GetCurrentBlockNumber is the current sync head.
func GetCurrentBlockNumber(ctx context.Context, reader rawdb.DatabaseReader) (uint64, error) {
	return stages.GetSyncStageProgress(ctx, reader, constants.StageFinish)
}

// GetHighestBlockNumber is the highest known header.
func GetHighestBlockNumber(ctx context.Context, reader rawdb.DatabaseReader) (uint64, error) {
	return stages.GetSyncStageProgress(ctx, reader, constants.StageHeaders)
}
