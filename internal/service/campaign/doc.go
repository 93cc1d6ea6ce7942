// Package campaign implements campaign dispatch lifecycle management.
//
// The service layer owns the campaign-level view of a send: expanding a
// campaign into per-recipient queue tasks, stopping a send in flight, and
// recomputing campaign counters and terminal status from task states. It
// depends on repository interfaces defined in this package and should never
// import from api/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
