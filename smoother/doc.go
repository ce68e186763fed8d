// Package smoother implements the windowed, decay-weighted moving average used to
// smooth facial action unit intensities and head pose.
//
// # Model
//
// Each stream (action units, pose, optionally per topic) owns a fixed-capacity
// window of its most recent samples. A sample is a mapping from key to number;
// keys are ordered lexicographically so that the i-th value of every buffered
// sample refers to the same key. When a sample arrives whose key set differs from
// the buffered ones, the window starts over from that sample.
//
// For TrailingMovingAverage the output for each key is
//
//	sum_k w_k * x_k / sum_k w_k,  w_k = (1 - steep)^k
//
// where k is the age of a sample (0 for the newest). A larger steep decays older
// samples faster, so the output follows new input more closely. With fewer samples
// than the window size the average covers what is available.
//
// # Multiplier
//
// The Multiplier cell is shared with the parameter router, which is its only
// writer. Streams configured to apply it scale the raw sample before it enters the
// window: an empty vector is the identity, a single factor is broadcast, and a
// vector of the sample's length is applied element-wise. Any other length rejects
// the sample with ErrMultiplierShape.
package smoother
