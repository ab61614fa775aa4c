package csvstore

import (
	"context"
	"fmt"
	"math"

	"github.com/whlin/quantpipe/internal/domain"
)

// SignalFile reads the latest desired position from a positions CSV written
// by the positions command. The live loop re-reads the file every cycle so a
// pipeline rerun takes effect without a restart.
type SignalFile struct {
	Path string
}

// Latest returns the most recent position value in {-1,0,+1}, skipping
// trailing warmup gaps.
func (s SignalFile) Latest(_ context.Context) (int, error) {
	t, err := ReadTable(s.Path)
	if err != nil {
		return 0, err
	}
	_, pos, err := t.PositionColumn()
	if err != nil {
		return 0, err
	}
	for i := len(pos) - 1; i >= 0; i-- {
		if !math.IsNaN(pos[i]) {
			return int(math.Round(pos[i])), nil
		}
	}
	return 0, fmt.Errorf("csvstore: %s: no finite position values: %w", s.Path, domain.ErrInputData)
}
