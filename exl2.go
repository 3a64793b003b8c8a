// Package exl2 provides a Go client for the ExLlamaV2 WebSocket API.
//
// A single WebSocket connection carries any number of concurrent requests.
// Every request is tagged with a connection-scoped request_id and its
// replies are routed back to the call that issued it, so callers never see
// each other's responses regardless of the order the server answers in.
//
// # Thread Safety
//
// [Client] is safe for concurrent use by multiple goroutines. A [Future]
// may be waited on from any number of goroutines. An [InferStream] should
// only be consumed by a single goroutine.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client, err := exl2.Connect(ctx, exl2.Address("127.0.0.1", 5001))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	// One-shot generation
//	fut, err := client.Infer(ctx, "My name is", exl2.WithMaxNewTokens(50))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := fut.Wait(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Response)
//
//	// Streaming generation
//	stream, err := client.InferStream(ctx, "My name is", exl2.WithMaxNewTokens(50))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for item, err := range stream.Chunks(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Print(item.Chunk)
//	}
//
// # Pending Calls
//
// There is no built-in timeout. A call whose reply never arrives stays
// registered until the connection closes, at which point it fails with
// [ErrClosed] or the transport error. Callers that stop waiting early
// (a cancelled context) should call Release on the handle so the
// connection forgets the request.
//
// # Observability
//
// Use [WithLogger], [WithOnSend], and [WithOnReceive] to add logging and
// monitoring to the client:
//
//	client, err := exl2.Connect(ctx, url,
//	    exl2.WithLogger(slog.Default()),
//	    exl2.WithOnSend(func(req *exl2.Request) {
//	        metrics.RequestsSent.Inc()
//	    }),
//	)
package exl2
