package rawpool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	camsession "github.com/visiona/camsession"
)

const (
	// defaultMemoryBudget bounds retained frame data before eviction kicks in.
	defaultMemoryBudget = 256 << 20

	// maxInbox bounds the delivery mailbox. Device callbacks never block; when
	// the worker falls behind, the oldest pending delivery is dropped.
	maxInbox = 64

	// maxPending bounds the unpaired image/metadata maps. A frame whose
	// counterpart never arrives is evicted instead of leaking.
	maxPending = 32
)

// Frame is a retained raw frame: the image paired with the capture metadata
// that produced it.
type Frame struct {
	Image       camsession.RawImage
	Metadata    camsession.CaptureMetadata
	Orientation camsession.ScreenOrientation
	Type        camsession.RawType
}

// SaveFunc persists the frames of one burst.
type SaveFunc func(frames []Frame, settings camsession.PostProcessSettings, outputPath string) error

// PreviewFunc renders one retained frame while raw preview is enabled.
// Invoked from the pool worker goroutine.
type PreviewFunc func(frame Frame, quality int)

// Option configures a Pool.
type Option func(*Pool)

// WithMemoryBudget sets the initial retained-data budget in bytes.
func WithMemoryBudget(bytes uint64) Option {
	return func(p *Pool) { p.budget.Store(bytes) }
}

// WithSaveFunc replaces the default burst writer.
func WithSaveFunc(fn SaveFunc) Option {
	return func(p *Pool) { p.save = fn }
}

// WithPreviewFunc installs the raw preview renderer.
func WithPreviewFunc(fn PreviewFunc) Option {
	return func(p *Pool) { p.preview = fn }
}

// Stats is a snapshot of the pool's counters.
type Stats struct {
	Retained  int    // frames currently in the ring
	UsedBytes uint64 // retained frame data
	Delivered uint64 // deliveries accepted into the inbox
	Dropped   uint64 // deliveries or pending halves dropped
	Evicted   uint64 // retained frames evicted for memory
}

// delivery is one inbox item: exactly one of img or md is set.
type delivery struct {
	img *camsession.RawImage
	md  *metaDelivery
}

type metaDelivery struct {
	md          camsession.CaptureMetadata
	orientation camsession.ScreenOrientation
	rawType     camsession.RawType
}

// Pool retains recent raw frames and persists bursts from them. It implements
// both camsession.ImageConsumer and camsession.BufferManager.
//
// Device callbacks append to a bounded inbox and return; one worker goroutine
// pairs images with their metadata by timestamp and moves completed frames
// into the retained ring. The ring and the latest-timestamp counter are safe
// to read from any goroutine.
type Pool struct {
	inboxMu   sync.Mutex
	inboxCond *sync.Cond
	inbox     []delivery
	stopped   bool

	startedMu sync.Mutex
	started   bool
	wg        sync.WaitGroup

	// Retained ring, oldest first.
	mu        sync.Mutex
	frames    []Frame
	usedBytes uint64

	budget atomic.Uint64
	latest atomic.Int64 // newest retained timestamp, -1 before the first frame

	previewOn      atomic.Bool
	previewQuality atomic.Int32

	delivered atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64

	save    SaveFunc
	preview PreviewFunc
}

var (
	_ camsession.ImageConsumer = (*Pool)(nil)
	_ camsession.BufferManager = (*Pool)(nil)
)

// New returns a stopped pool. The zero save function writes bursts to disk,
// see SaveToDir.
func New(opts ...Option) *Pool {
	p := &Pool{}
	p.inboxCond = sync.NewCond(&p.inboxMu)
	p.budget.Store(defaultMemoryBudget)
	p.latest.Store(-1)
	p.save = SaveToDir

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the pairing worker. Idempotent.
func (p *Pool) Start() {
	p.startedMu.Lock()
	defer p.startedMu.Unlock()

	if p.started {
		return
	}
	p.started = true

	p.inboxMu.Lock()
	p.stopped = false
	p.inboxMu.Unlock()

	p.wg.Add(1)
	go p.run()
}

// Stop drains nothing: it wakes the worker, waits for it to exit and turns
// subsequent deliveries into no-ops. Retained frames stay readable. Idempotent.
func (p *Pool) Stop() {
	p.startedMu.Lock()
	if !p.started {
		p.startedMu.Unlock()
		return
	}
	p.started = false
	p.startedMu.Unlock()

	p.inboxMu.Lock()
	p.stopped = true
	p.inboxCond.Broadcast()
	p.inboxMu.Unlock()

	p.wg.Wait()
}

// QueueImage hands one raw frame to the pool. Never blocks; drops the oldest
// pending delivery when the inbox is full. No-op after Stop.
func (p *Pool) QueueImage(img camsession.RawImage) {
	p.enqueue(delivery{img: &img})
}

// QueueMetadata hands per-capture metadata to the pool. Same delivery
// semantics as QueueImage.
func (p *Pool) QueueMetadata(md camsession.CaptureMetadata, orientation camsession.ScreenOrientation, rawType camsession.RawType) {
	p.enqueue(delivery{md: &metaDelivery{md: md, orientation: orientation, rawType: rawType}})
}

func (p *Pool) enqueue(d delivery) {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()

	if p.stopped {
		return
	}

	if len(p.inbox) >= maxInbox {
		p.inbox = p.inbox[1:]
		p.dropped.Add(1)
	}

	p.inbox = append(p.inbox, d)
	p.delivered.Add(1)
	p.inboxCond.Signal()
}

// EnableRawPreview turns on preview rendering of retained frames.
func (p *Pool) EnableRawPreview(quality int) {
	p.previewQuality.Store(int32(quality))
	p.previewOn.Store(true)
}

// DisableRawPreview turns preview rendering off.
func (p *Pool) DisableRawPreview() {
	p.previewOn.Store(false)
}

// Grow raises the retained-data budget. It never shrinks it.
func (p *Pool) Grow(bytes uint64) {
	for {
		cur := p.budget.Load()
		if bytes <= cur || p.budget.CompareAndSwap(cur, bytes) {
			return
		}
	}
}

// EstimatedSettings derives a postprocess starting point from the newest
// retained frame's metadata. Returns the zero value before any frame arrives.
func (p *Pool) EstimatedSettings() camsession.PostProcessSettings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.frames) == 0 {
		return camsession.PostProcessSettings{}
	}

	md := p.frames[len(p.frames)-1].Metadata

	// Longer effective exposure wants less shadow lift. The curve here only
	// seeds the UI slider positions.
	ev := float64(md.Iso) * float64(md.ExposureTime) * 1e-9
	shadows := float32(4.0)
	switch {
	case ev > 4.0:
		shadows = 1.0
	case ev > 1.0:
		shadows = 2.0
	}

	return camsession.PostProcessSettings{
		Shadows:    shadows,
		Contrast:   0.5,
		BlackPoint: 0.0,
		WhitePoint: 1.0,
	}
}

// LatestTimestamp returns the newest retained frame's timestamp, or -1.
func (p *Pool) LatestTimestamp() int64 {
	return p.latest.Load()
}

// CountSince reports how many retained frames are strictly newer than ref.
func (p *Pool) CountSince(ref int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, f := range p.frames {
		if f.Image.Timestamp > ref {
			n++
		}
	}
	return n
}

// SaveBurst persists the newest count frames that are strictly newer than ref.
// Fails when no such frame is retained; saves fewer than count when the ring
// holds fewer.
func (p *Pool) SaveBurst(count int, ref int64, settings camsession.PostProcessSettings, outputPath string) error {
	p.mu.Lock()

	burst := make([]Frame, 0, count)
	for _, f := range p.frames {
		if f.Image.Timestamp > ref {
			burst = append(burst, f)
		}
	}
	p.mu.Unlock()

	if len(burst) == 0 {
		return fmt.Errorf("rawpool: no frames newer than %d", ref)
	}

	sort.Slice(burst, func(i, j int) bool {
		return burst[i].Image.Timestamp < burst[j].Image.Timestamp
	})

	if len(burst) > count {
		burst = burst[len(burst)-count:]
	}

	slog.Info("rawpool: saving burst",
		"frames", len(burst), "requested", count, "output", outputPath)

	return p.save(burst, settings, outputPath)
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	retained := len(p.frames)
	used := p.usedBytes
	p.mu.Unlock()

	return Stats{
		Retained:  retained,
		UsedBytes: used,
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
		Evicted:   p.evicted.Load(),
	}
}

// run is the pairing worker. It consumes the inbox one delivery at a time,
// matches images with metadata by timestamp and retains completed frames.
func (p *Pool) run() {
	defer p.wg.Done()

	pendingImages := make(map[int64]camsession.RawImage)
	pendingMeta := make(map[int64]metaDelivery)

	for {
		p.inboxMu.Lock()
		for len(p.inbox) == 0 {
			if p.stopped {
				p.inboxMu.Unlock()
				return
			}
			p.inboxCond.Wait()
		}
		if p.stopped {
			p.inboxMu.Unlock()
			return
		}

		d := p.inbox[0]
		p.inbox = p.inbox[1:]
		p.inboxMu.Unlock()

		switch {
		case d.img != nil:
			ts := d.img.Timestamp
			if md, ok := pendingMeta[ts]; ok {
				delete(pendingMeta, ts)
				p.retain(Frame{Image: *d.img, Metadata: md.md, Orientation: md.orientation, Type: md.rawType})
				continue
			}
			p.stash(pendingImages, ts, *d.img)

		case d.md != nil:
			ts := d.md.md.Timestamp
			if img, ok := pendingImages[ts]; ok {
				delete(pendingImages, ts)
				p.retain(Frame{Image: img, Metadata: d.md.md, Orientation: d.md.orientation, Type: d.md.rawType})
				continue
			}
			if len(pendingMeta) >= maxPending {
				p.dropOldestMeta(pendingMeta)
			}
			pendingMeta[ts] = *d.md
		}
	}
}

func (p *Pool) stash(pending map[int64]camsession.RawImage, ts int64, img camsession.RawImage) {
	if len(pending) >= maxPending {
		oldest := int64(0)
		first := true
		for k := range pending {
			if first || k < oldest {
				oldest = k
				first = false
			}
		}
		delete(pending, oldest)
		p.dropped.Add(1)
	}
	pending[ts] = img
}

func (p *Pool) dropOldestMeta(pending map[int64]metaDelivery) {
	oldest := int64(0)
	first := true
	for k := range pending {
		if first || k < oldest {
			oldest = k
			first = false
		}
	}
	delete(pending, oldest)
	p.dropped.Add(1)
}

// retain moves one completed frame into the ring, evicting from the front
// while over budget.
func (p *Pool) retain(f Frame) {
	p.mu.Lock()

	p.frames = append(p.frames, f)
	p.usedBytes += uint64(len(f.Image.Data))

	budget := p.budget.Load()
	for len(p.frames) > 1 && p.usedBytes > budget {
		p.usedBytes -= uint64(len(p.frames[0].Image.Data))
		p.frames = p.frames[1:]
		p.evicted.Add(1)
	}
	p.mu.Unlock()

	if f.Image.Timestamp > p.latest.Load() {
		p.latest.Store(f.Image.Timestamp)
	}

	if p.previewOn.Load() && p.preview != nil {
		p.preview(f, int(p.previewQuality.Load()))
	}
}

// SaveToDir is the default burst writer: one .raw file per frame plus a
// settings.yaml sidecar, all under outputPath.
func SaveToDir(frames []Frame, settings camsession.PostProcessSettings, outputPath string) error {
	if outputPath == "" {
		return fmt.Errorf("rawpool: output path is empty")
	}

	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return fmt.Errorf("rawpool: create output dir: %w", err)
	}

	for _, f := range frames {
		name := filepath.Join(outputPath, fmt.Sprintf("%d.raw", f.Image.Timestamp))
		if err := os.WriteFile(name, f.Image.Data, 0o644); err != nil {
			return fmt.Errorf("rawpool: write frame: %w", err)
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("rawpool: marshal settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputPath, "settings.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("rawpool: write settings: %w", err)
	}
	return nil
}
