// Package crawler drives humanlike crawl sessions: it gates each request on
// the domain's circuit breaker and rate limiter, paces it like a person would,
// fetches it, classifies bot protection and feeds the outcome back into the
// breaker, the metrics and the timing learner.
package crawler
