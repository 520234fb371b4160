// Package retry provides the single retry-budget abstraction used by the
// supervisor for both automatic start retries and retries after an
// external fix.
//
// A Budget allows a fixed number of attempts with exponential backoff
// between them. Recording the attempt that exhausts the budget invokes the
// escalation callback exactly once; the budget stays exhausted until Reset.
package retry
