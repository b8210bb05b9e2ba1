// Package sending is the front half of the bulk send scheduler: it checks
// whether a campaign may be sent, snapshots the audience into a send job,
// and hands the job to the queue. It also exposes job status polling and
// the operator pause/resume and retry-failed controls.
//
// Batches are drained by internal/worker.
package sending
