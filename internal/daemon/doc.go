// Package daemon runs the long-lived audiojoin process.
//
// It wires configuration, the session store, the ffmpeg engine, the progress
// poller and, in queued mode, the SQLite queue and its supervisors into a
// single lifecycle guarded by a flock on the log directory. Serve also owns
// the periodic session reaper and log retention.
//
// Keep orchestration here: conversion semantics belong to the conversion
// package and request handling to api.
package daemon
