// Package supervisor drains the conversion queue.
//
// A Run claims pending entries one at a time while the number of processing
// entries stays below the configured limit, launches each conversion, joins
// it, and reports the outcome back to the queue. A Run stops claiming once the
// queue has no active entries or its runtime budget is spent, and always
// finishes the job it is holding. Loop repeats Run on the poll interval for
// daemon mode; several supervisors, in one process or many, can share a queue
// because claims are atomic.
package supervisor
