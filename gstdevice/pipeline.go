package gstdevice

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	camsession "github.com/visiona/camsession"
)

// pipelineElements holds the element references a session needs after
// construction: the source for control changes and the sinks for sample
// callbacks.
type pipelineElements struct {
	pipeline    *gst.Pipeline
	source      *gst.Element
	rawSink     *app.Sink
	previewSink *app.Sink
}

// buildPipeline constructs the capture pipeline but does not start it.
//
// Structure:
//
//	v4l2src → tee ┬→ queue → capsfilter(raw) → appsink(raw)
//	              └→ queue → videoconvert → videoscale → capsfilter(preview) → appsink(preview)
//
// The preview branch is omitted when the session renders its preview from raw
// frames.
func buildPipeline(devicePath string, outputs camsession.SessionOutputs) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	source, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	source.SetProperty("device", devicePath)

	tee, err := gst.NewElement("tee")
	if err != nil {
		return nil, fmt.Errorf("failed to create tee: %w", err)
	}

	// Raw branch. The appsink is the image reader: bounded, dropping the
	// oldest frame so a slow consumer never stalls the source.
	rawQueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("failed to create raw queue: %w", err)
	}
	rawQueue.SetProperty("leaky", 2) // drop oldest

	rawCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create raw capsfilter: %w", err)
	}
	rawCaps.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,width=%d,height=%d", outputs.Raw.Width, outputs.Raw.Height)))

	rawSink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create raw appsink: %w", err)
	}
	rawSink.SetProperty("sync", false)
	rawSink.SetProperty("drop", true)
	maxBuffered := outputs.MaxBufferedImages
	if maxBuffered <= 0 {
		maxBuffered = 4
	}
	rawSink.SetProperty("max-buffers", maxBuffered)

	pipeline.AddMany(source, tee, rawQueue, rawCaps, rawSink.Element)

	if err := source.Link(tee); err != nil {
		return nil, fmt.Errorf("failed to link source to tee: %w", err)
	}
	if err := gst.ElementLinkMany(tee, rawQueue, rawCaps, rawSink.Element); err != nil {
		return nil, fmt.Errorf("failed to link raw branch: %w", err)
	}

	elements := &pipelineElements{
		pipeline: pipeline,
		source:   source,
		rawSink:  rawSink,
	}

	if outputs.RawPreview {
		// Preview is rendered from raw frames by the consumer; no display branch.
		return elements, nil
	}

	// Preview branch.
	prevQueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("failed to create preview queue: %w", err)
	}
	prevQueue.SetProperty("leaky", 2)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	prevCaps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create preview capsfilter: %w", err)
	}
	prevCaps.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d",
			outputs.Preview.Width, outputs.Preview.Height)))

	previewSink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create preview appsink: %w", err)
	}
	previewSink.SetProperty("sync", false)
	previewSink.SetProperty("drop", true)
	previewSink.SetProperty("max-buffers", 1)

	pipeline.AddMany(prevQueue, converter, scaler, prevCaps, previewSink.Element)

	if err := gst.ElementLinkMany(tee, prevQueue, converter, scaler, prevCaps, previewSink.Element); err != nil {
		return nil, fmt.Errorf("failed to link preview branch: %w", err)
	}

	elements.previewSink = previewSink
	return elements, nil
}

// destroyPipeline sets the pipeline to NULL and releases its resources. Safe
// on a pipeline that never started.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.pipeline == nil {
		return nil
	}
	if err := elements.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
