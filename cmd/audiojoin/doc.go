// Command audiojoin serves the audio concatenation API and provides
// maintenance commands for its sessions and queue.
//
// `audiojoin serve` runs the HTTP daemon. `worker` drains the queue once for
// cron-driven deployments, and `reap` sweeps expired sessions. The `queue`,
// `session`, `deps` and `status` commands read local state directly, so they
// work whether or not the daemon is running.
package main
