// Package client is the caller-side façade of the wallet.
//
// A Client numbers each request, records it in a correlation table and
// matches responses by id alone, so responses may arrive in any order.
// Frames whose type starts with "event_" are broadcast to subscribers and
// never complete a request.
//
//	c := client.New(conn, client.WithLogger(log))
//	defer c.Close()
//
//	if _, err := c.Init(ctx, "http://127.0.0.1:11211", "", 0); err != nil {
//		return err
//	}
//	job, err := c.AsyncCall(ctx, "transfer", walletID, params)
//	if err != nil {
//		return err
//	}
//	result, err := c.WaitForJob(ctx, job, client.DefaultPollInterval, client.DefaultJobTimeout)
//
// The first call of any operation loads the module. Failures reported by the
// host come back as *errors.RemoteError carrying the host's message.
//
// When the host fails, the client raises an "error" event. Requests still
// waiting at that moment are left unresolved unless the client was built
// with WithRejectPendingOnHostFailure; callers that need a bound should use
// a context deadline. Close fails every pending request with errors.ErrClosed.
package client
