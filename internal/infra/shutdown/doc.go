// Package shutdown coordinates graceful process termination.
//
// A Handler turns SIGINT and SIGTERM into a cancelled context, then runs
// the registered hooks in reverse order of registration under a shared
// deadline:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(srv.Shutdown)
//	go srv.Serve(h.Context())
//	err := h.Wait()
package shutdown
