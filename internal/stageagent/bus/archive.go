package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/pkg/log"
)

const uploadTimeout = 30 * time.Second

// ScanLookup resolves a scan id to its handle, for the config.
type ScanLookup interface {
	Scan(id string) (*motion.ScanHandle, bool)
}

// ScanArchive is the document uploaded for every finished scan.
type ScanArchive struct {
	ScanID     string           `json:"scan_id"`
	AxisID     string           `json:"axis_id"`
	Outcome    string           `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	Total      int              `json:"total"`
	Done       int              `json:"done"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Config     *core.ScanConfig `json:"config,omitempty"`
	Points     []ArchivedPoint  `json:"points"`
}

type ArchivedPoint struct {
	core.GridPoint
	Time   time.Time `json:"time"`
	Values []float64 `json:"values,omitempty"`
}

// ArchiveKey is the object key of a scan, before the store prefix.
func ArchiveKey(scanID string) string {
	return "scans/" + scanID + ".json"
}

// S3Archiver buffers the events of each scan and uploads the whole scan once
// it ends. Handle runs on a Broadcaster subscription, so uploads never hold
// up the worker.
type S3Archiver struct {
	store  ObjectStore
	scans  ScanLookup
	axisID string
	logger log.Logger

	open map[string]*ScanArchive
}

func NewS3Archiver(store ObjectStore, scans ScanLookup, axisID string) *S3Archiver {
	return &S3Archiver{
		store:  store,
		scans:  scans,
		axisID: axisID,
		logger: log.WithName("bus.archive"),
		open:   make(map[string]*ScanArchive),
	}
}

func (a *S3Archiver) Handle(e core.Event) {
	if !e.Type.IsScan() || e.ScanID == "" {
		return
	}

	doc, ok := a.open[e.ScanID]
	if !ok {
		doc = &ScanArchive{ScanID: e.ScanID, AxisID: a.axisID, StartedAt: e.Time}
		if a.scans != nil {
			if h, found := a.scans.Scan(e.ScanID); found {
				cfg := h.Config()
				doc.Config = &cfg
				doc.Total = h.Total()
			}
		}
		a.open[e.ScanID] = doc
	}

	switch e.Type {
	case core.EventScanStarted:
		doc.Total = e.Total
		doc.StartedAt = e.Time
	case core.EventPointAcquired:
		if e.Point != nil {
			p := ArchivedPoint{GridPoint: *e.Point, Time: e.Time}
			if e.Sample != nil {
				p.Values = e.Sample.Values
			}
			doc.Points = append(doc.Points, p)
		}
	}

	if !e.Type.Terminal() {
		return
	}
	delete(a.open, e.ScanID)

	doc.FinishedAt = e.Time
	doc.Done = len(doc.Points)
	doc.Reason = e.Reason
	switch e.Type {
	case core.EventScanCompleted:
		doc.Outcome = "completed"
	case core.EventScanFailed:
		doc.Outcome = "failed"
	case core.EventScanCancelled:
		doc.Outcome = "cancelled"
	}

	a.upload(doc)
}

func (a *S3Archiver) upload(doc *ScanArchive) {
	body, err := json.Marshal(doc)
	if err != nil {
		a.logger.Error(err, "Failed to encode scan archive", "scan", doc.ScanID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := a.store.PutObject(ctx, ArchiveKey(doc.ScanID), body, "application/json"); err != nil {
		metrics.EventsDropped.WithLabelValues("archive").Inc()
		a.logger.Error(err, "Failed to archive scan", "scan", doc.ScanID)
		return
	}
	a.logger.Info("Scan archived", "scan", doc.ScanID, "outcome", doc.Outcome, "points", doc.Done, "bytes", len(body))
}

// URL is a temporary download link for the archive of scanID.
func (a *S3Archiver) URL(ctx context.Context, scanID string, expiry time.Duration) (string, error) {
	return a.store.PresignedURL(ctx, ArchiveKey(scanID), expiry)
}
