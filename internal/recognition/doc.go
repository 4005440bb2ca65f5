// Package recognition turns uploaded scan images into candidate card results.
//
// Worker.ProcessImage sends one image to the vision model. Worker.ProcessScan
// drives every unprocessed image of a scan through a bounded errgroup and
// records each outcome (recognized, empty, refused, failed) through the scan
// store as soon as it resolves. Result ids are derived from the scan, image,
// and candidate position, so re-running an interrupted scan never duplicates
// results.
//
// When the scan leaves PROCESSING mid-run (typically a cancel), the store
// rejects late outcomes with scan.ErrScanGone; the worker drops them, logs the
// discard, and stops dispatching further images.
//
// Worker also satisfies stage.Handler so the workflow manager can drive it
// like any other stage.
package recognition
