// capture-probe opens a camera session against a local video device, streams
// for a while, optionally fires an HDR burst, and reports what happened. It
// is the integration harness for the camsession module.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	camsession "github.com/visiona/camsession"
	"github.com/visiona/camsession/gstdevice"
	"github.com/visiona/camsession/rawpool"
	"github.com/visiona/camsession/telemetry"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to yaml config (optional)")
	deviceID := flag.String("device", "0", "Device id or /dev/video path")
	duration := flag.Duration("duration", 30*time.Second, "How long to stream (0 = until interrupt)")
	burstAfter := flag.Duration("burst-after", 5*time.Second, "Fire an HDR burst after this long (0 = never)")
	burstImages := flag.Int("burst-images", 4, "Base frames per HDR burst")
	outputDir := flag.String("output", "./bursts", "Directory for saved bursts")
	mqttBroker := flag.String("mqtt", "", "MQTT broker URL for telemetry (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("capture-probe %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg := camsession.DefaultConfig()
	if *configPath != "" {
		loaded, err := camsession.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *mqttBroker != "" {
		cfg.MQTT.BrokerURL = *mqttBroker
	}

	fmt.Printf("capture-probe %s\n", version)
	fmt.Printf("  Device:     %s\n", cfg.DeviceID)
	fmt.Printf("  Raw:        %dx%d\n", cfg.Outputs.Raw.Width, cfg.Outputs.Raw.Height)
	fmt.Printf("  Preview:    %dx%d\n", cfg.Outputs.Preview.Width, cfg.Outputs.Preview.Height)
	fmt.Printf("  Frame rate: %d fps\n", cfg.Startup.FrameRate)
	fmt.Printf("  Output:     %s\n", *outputDir)
	fmt.Printf("\n")

	pool := rawpool.New()
	probe := newProbeListener()

	var listener camsession.Listener = probe
	if cfg.MQTT.BrokerURL != "" {
		tl := telemetry.New(cfg.MQTT)
		if err := tl.Connect(); err != nil {
			log.Fatalf("Failed to connect telemetry: %v", err)
		}
		defer tl.Disconnect()
		listener = fanOut{probe, tl}
	}

	sess := camsession.New()
	err := sess.Open(camsession.OpenConfig{
		DeviceID:       cfg.DeviceID,
		Backend:        gstdevice.NewBackend(),
		Consumer:       pool,
		Buffers:        pool,
		Exposure:       newSimpleExposure(),
		Listener:       listener,
		Outputs:        cfg.Outputs,
		Startup:        cfg.Startup,
		MaxMemoryBytes: cfg.MaxMemoryBytes,
	})
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var burstTimer <-chan time.Time
	if *burstAfter > 0 {
		burstTimer = time.After(*burstAfter)
	}

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	fmt.Printf("Streaming... press Ctrl+C to stop\n\n")

	running := true
	for running {
		select {
		case <-sigChan:
			fmt.Printf("\nInterrupt received, shutting down...\n")
			running = false

		case <-deadline:
			fmt.Printf("\nDuration elapsed, shutting down...\n")
			running = false

		case <-burstTimer:
			burstTimer = nil
			iso, exposure := probe.exposure()
			if iso <= 0 {
				iso, exposure = 100, 10_000_000
			}
			slog.Info("probe: firing hdr burst",
				"images", *burstImages, "iso", iso, "exposure_ns", exposure)
			sess.CaptureHdr(*burstImages, iso, exposure, iso/2, exposure/4,
				camsession.PostProcessSettings{Shadows: 2, WhitePoint: 1}, *outputDir)
		}
	}

	sess.Close()

	stats := pool.Stats()
	fmt.Printf("\n")
	fmt.Printf("Final statistics:\n")
	fmt.Printf("  Frames retained:  %d\n", stats.Retained)
	fmt.Printf("  Data retained:    %.2f MB\n", float64(stats.UsedBytes)/1024/1024)
	fmt.Printf("  Deliveries:       %d\n", stats.Delivered)
	fmt.Printf("  Dropped:          %d\n", stats.Dropped)
	fmt.Printf("  Evicted:          %d\n", stats.Evicted)
	fmt.Printf("  Bursts completed: %d\n", probe.burstsCompleted())
	fmt.Printf("  Bursts failed:    %d\n", probe.burstsFailed())
}

// probeListener prints session events and tracks the last-known exposure so
// the burst trigger can reuse it.
type probeListener struct {
	mu        sync.Mutex
	iso       int32
	exposure  int64
	completed int
	failed    int
}

var _ camsession.Listener = (*probeListener)(nil)

func newProbeListener() *probeListener { return &probeListener{} }

func (p *probeListener) exposure() (int32, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iso, p.exposure
}

func (p *probeListener) burstsCompleted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *probeListener) burstsFailed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *probeListener) OnStarted() {
	fmt.Printf("[%s] session started\n", time.Now().Format("15:04:05"))
}

func (p *probeListener) OnError(err error) {
	fmt.Printf("[%s] session error: %v\n", time.Now().Format("15:04:05"), err)
}

func (p *probeListener) OnDisconnected() {
	fmt.Printf("[%s] device disconnected\n", time.Now().Format("15:04:05"))
}

func (p *probeListener) OnStateChanged(state camsession.SessionState) {
	fmt.Printf("[%s] state: %s\n", time.Now().Format("15:04:05"), state)
}

func (p *probeListener) OnExposureStatus(iso int32, exposureTime int64) {
	p.mu.Lock()
	p.iso, p.exposure = iso, exposureTime
	p.mu.Unlock()
	fmt.Printf("[%s] exposure: iso=%d time=%dns\n", time.Now().Format("15:04:05"), iso, exposureTime)
}

func (p *probeListener) OnAutoFocusStateChanged(state camsession.FocusState, focusDistance float32) {
	fmt.Printf("[%s] focus: %s distance=%.2f\n", time.Now().Format("15:04:05"), state, focusDistance)
}

func (p *probeListener) OnAutoExposureStateChanged(state camsession.ExposureState) {
	fmt.Printf("[%s] auto-exposure: %s\n", time.Now().Format("15:04:05"), state)
}

func (p *probeListener) OnHdrProgress(percent float32) {
	fmt.Printf("[%s] hdr progress: %.0f%%\n", time.Now().Format("15:04:05"), percent)
}

func (p *probeListener) OnHdrCompleted() {
	p.mu.Lock()
	p.completed++
	p.mu.Unlock()
	fmt.Printf("[%s] hdr burst completed\n", time.Now().Format("15:04:05"))
}

func (p *probeListener) OnHdrFailed() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
	fmt.Printf("[%s] hdr burst FAILED\n", time.Now().Format("15:04:05"))
}

// fanOut delivers each callback to every wrapped listener in order.
type fanOut []camsession.Listener

var _ camsession.Listener = (fanOut)(nil)

func (f fanOut) OnStarted() {
	for _, l := range f {
		l.OnStarted()
	}
}

func (f fanOut) OnError(err error) {
	for _, l := range f {
		l.OnError(err)
	}
}

func (f fanOut) OnDisconnected() {
	for _, l := range f {
		l.OnDisconnected()
	}
}

func (f fanOut) OnStateChanged(state camsession.SessionState) {
	for _, l := range f {
		l.OnStateChanged(state)
	}
}

func (f fanOut) OnExposureStatus(iso int32, exposureTime int64) {
	for _, l := range f {
		l.OnExposureStatus(iso, exposureTime)
	}
}

func (f fanOut) OnAutoFocusStateChanged(state camsession.FocusState, focusDistance float32) {
	for _, l := range f {
		l.OnAutoFocusStateChanged(state, focusDistance)
	}
}

func (f fanOut) OnAutoExposureStateChanged(state camsession.ExposureState) {
	for _, l := range f {
		l.OnAutoExposureStateChanged(state)
	}
}

func (f fanOut) OnHdrProgress(percent float32) {
	for _, l := range f {
		l.OnHdrProgress(percent)
	}
}

func (f fanOut) OnHdrCompleted() {
	for _, l := range f {
		l.OnHdrCompleted()
	}
}

func (f fanOut) OnHdrFailed() {
	for _, l := range f {
		l.OnHdrFailed()
	}
}
