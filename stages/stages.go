package stages

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/rawdb"
)

// GetSyncStageProgress reads the persisted progress marker of a staged-sync
// stage. A missing row means the stage has not run yet and reads as zero.
func GetSyncStageProgress(ctx context.Context, reader rawdb.DatabaseReader, stage string) (uint64, error) {
	value, err := reader.GetOne(ctx, constants.TableSyncStage, []byte(stage))
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return 0, nil
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("stage %s progress has %d bytes, want 8", stage, len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}
