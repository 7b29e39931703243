// Package qerrors analyzes application errors with an AI advice
// endpoint. Reports are deduplicated by fingerprint, answers are served
// from a bounded time-aware cache, and misses trigger one outbound
// fetch per fingerprint through a concurrency-limited scheduler with
// retries, provider-aware backoff, and a circuit breaker.
//
// Typical use:
//
//	a, err := qerrors.New(qerrors.FromEnv())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Shutdown(context.Background())
//
//	if advice := a.Analyze(ctx, qerrors.FromError(err, "checkout")); advice != nil {
//		slog.Info("advice", "cause", advice["cause"])
//	}
//
// Analyze never returns an error: failures anywhere in the pipeline are
// logged and yield nil advice, so error analysis cannot take the
// application down with it.
package qerrors
