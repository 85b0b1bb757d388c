// Package metrics exposes Prometheus collectors for the payment lifecycle.
//
// A Collector owns its registry, so several instances can coexist in tests.
// It satisfies subscription.Recorder and additionally provides an HTTP
// middleware that records request counts and latency per chi route pattern.
//
//	m := metrics.New(metrics.WithNamespace("paycore"))
//	svc := subscription.NewService(store, proc, cfg, subscription.WithRecorder(m))
//	r.Use(m.Middleware)
//	r.Handle("/metrics", m.Handler())
package metrics
