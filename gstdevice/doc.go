// Package gstdevice implements the camsession device contracts on top of a
// GStreamer capture pipeline.
//
// A device maps to one video source element; a capture session maps to one
// pipeline: source → tee, with a raw branch feeding an appsink (the image
// reader) and a preview branch. Bus messages become device and session
// notifications; appsink samples become image-available callbacks with
// synthesized per-frame metadata.
package gstdevice
