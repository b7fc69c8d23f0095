// Package service synchronizes tables with their upstream and drives the
// event cascade between them.
//
// One Service owns the process-wide set of loaded tables. Updates of the same
// table identity are serialized; updates of different identities run in
// parallel. Every committed update is persisted before it becomes visible in
// memory, so a failed save leaves both the store and the table unchanged.
package service
