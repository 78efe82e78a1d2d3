// Package graph holds the activity dependency model: an arena of immutable
// activities addressed by integer handles, with predecessor edges validated
// to stay acyclic at construction time.
//
// A Builder accumulates activities and edges, then Build freezes them into a
// Graph. Nothing mutates after Build: activities expose read accessors only,
// and any change to a duration, risk score or dependency set means building
// a new graph. Temporal state (what is running, what is done) never lives
// here; that belongs to the engine consuming the graph.
package graph
