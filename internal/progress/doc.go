// Package progress estimates how far a running ffmpeg conversion has got.
//
// Estimation is pure: it takes the tail of the ffmpeg log, the measured total
// duration, the last reported percentage and the elapsed time, and never
// reports less than it did before. The Poller wraps it with the liveness
// check that decides when a converting session is actually finished.
package progress
