// Package process spawns detached transcoder processes and answers liveness
// questions about them without shelling out.
//
// A Handle is the persisted reference (pid + start time) stored on a session.
// Liveness combines a signal-0 check with a create-time comparison so a pid
// recycled by the kernel after the transcoder exited is not mistaken for the
// original process. Zombies count as exited.
package process
