package core

import (
	"sync"
	"time"

	"github.com/JonMunkholm/ingest/internal/pipeline"
)

// DefaultHistorySize is how many run summaries the service keeps.
const DefaultHistorySize = 100

// RunSummary is the in-memory record of one finished import.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Target     string    `json:"target"`
	Source     string    `json:"source"`
	ClientIP   string    `json:"client_ip,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`

	TotalRows      int `json:"total_rows"`
	ValidatedCount int `json:"validated_count"`
	PersistedCount int `json:"persisted_count"`
	InvalidRows    int `json:"invalid_rows"`
	FailedBatches  int `json:"failed_batches"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

func summarize(runID, target, src, clientIP string, started time.Time, res *pipeline.RunResult, err error) RunSummary {
	sum := RunSummary{
		RunID:      runID,
		Target:     target,
		Source:     src,
		ClientIP:   clientIP,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		msg := MapError(err)
		sum.Status = StatusFailed
		sum.Error = err.Error()
		sum.Code = msg.Code
		return sum
	}

	sum.TotalRows = res.TotalRows
	sum.ValidatedCount = res.ValidatedCount
	sum.PersistedCount = res.PersistedCount
	sum.InvalidRows = len(res.Errors)
	sum.FailedBatches = len(res.PersistenceErrors)
	sum.Status = StatusSucceeded
	if !res.OK() {
		sum.Status = StatusPartial
	}
	return sum
}

// history is a fixed-size ring of run summaries.
type history struct {
	mu   sync.Mutex
	buf  []RunSummary
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &history{buf: make([]RunSummary, size)}
}

func (h *history) add(s RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// list returns the summaries newest first.
func (h *history) list() []RunSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.buf)
	}
	out := make([]RunSummary, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.buf[(h.next-i+len(h.buf))%len(h.buf)])
	}
	return out
}
