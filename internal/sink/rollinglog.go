package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/model"
)

// RollingLog is a size-rotated append-only log sink, written as either
// plain text lines or one JSON object per line depending on encodeJSON.
// Grounded on the teacher's snapshot-per-directory file writer
// (internal/engine/impl/sketch/writer_text.go), generalized from one
// file per snapshot interval to one rotating file per sink. No
// third-party rotation library appears anywhere in the retrieved
// corpus, so rotation is hand-rolled on top of os (see DESIGN.md).
type RollingLog struct {
	mu         sync.Mutex
	path       string
	maxSizeMB  int
	maxBackups int
	encodeJSON bool

	f    *os.File
	size int64
}

// NewRollingLog opens (or creates) the log file at cfg.Path.
func NewRollingLog(cfg config.RollingLogConfig, encodeJSON bool) (*RollingLog, error) {
	r := &RollingLog{path: cfg.Path, maxSizeMB: cfg.MaxSizeMB, maxBackups: cfg.MaxBackups, encodeJSON: encodeJSON}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RollingLog) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening rolling log %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat rolling log %s: %w", r.path, err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

func (r *RollingLog) Write(a model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var line []byte
	var err error
	if r.encodeJSON {
		line, err = json.Marshal(alertRecord{
			Timestamp: a.Timestamp, CANID: fmt.Sprintf("0x%X", a.CANID),
			AlertType: string(a.Type), Severity: a.Severity.String(), Details: a.Details,
			Context: a.Context,
		})
		if err != nil {
			return fmt.Errorf("%w: marshaling alert: %v", model.ErrSinkError, err)
		}
		line = append(line, '\n')
	} else {
		line = []byte(fmt.Sprintf("%.6f can_id=0x%X type=%s severity=%s %s\n", a.Timestamp, a.CANID, a.Type, a.Severity, a.Details))
	}

	n, err := r.f.Write(line)
	if err != nil {
		return fmt.Errorf("%w: writing rolling log: %v", model.ErrSinkError, err)
	}
	r.size += int64(n)

	if r.maxSizeMB > 0 && r.size >= int64(r.maxSizeMB)*1024*1024 {
		if err := r.rotate(); err != nil {
			return fmt.Errorf("%w: rotating %s: %v", model.ErrSinkError, r.path, err)
		}
	}
	return nil
}

func (r *RollingLog) rotate() error {
	r.f.Close()

	if r.maxBackups > 0 {
		for i := r.maxBackups; i >= 1; i-- {
			src := fmt.Sprintf("%s.%d", r.path, i)
			dst := fmt.Sprintf("%s.%d", r.path, i+1)
			if i == r.maxBackups {
				os.Remove(src)
				continue
			}
			os.Rename(src, dst)
		}
		os.Rename(r.path, r.path+".1")
	} else {
		os.Remove(r.path)
	}
	return r.open()
}

func (r *RollingLog) Name() string {
	if r.encodeJSON {
		return "json_log"
	}
	return "text_log"
}

func (r *RollingLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

type alertRecord struct {
	Timestamp float64        `json:"timestamp"`
	CANID     string         `json:"can_id"`
	AlertType string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Details   string         `json:"details"`
	Context   map[string]any `json:"context,omitempty"`
}
