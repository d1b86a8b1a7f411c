// Package laptrack links per-frame detections into trajectories by solving
// two linear assignment problems (Jaqaman et al., Nature Methods 2008).
//
// Responsibilities: frame-to-frame linking cost matrices, segment gap
// closing / merging / splitting cost matrices, the assignment solver, and
// reconstruction of the detection link graph from solver output.
// Key types: Sequence, Detection, Ref, TrackSegment, Tracker, Config.
//
// Dependency rule: this package never reads files, talks SQL or renders
// anything. Detection I/O lives in detio, persistence in storage/sqlite and
// plotting in monitor.
package laptrack
