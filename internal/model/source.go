package model

import "context"

// Source is the frame-source collaborator from spec §6: anything that can
// produce a monotonically timestamped sequence of Frames. spec's "none"
// return is split into two distinguishable Go idioms: (_, false, nil)
// means no data yet — the caller should retry shortly (real-time sources);
// (_, false, io.EOF) means the source is permanently exhausted (offline
// sources at end of file).
type Source interface {
	Next(ctx context.Context) (Frame, bool, error)
	Close() error
}
