// Package testing groups helpers for testing code built on the Mammoth client.
//
// The fixtures subpackage runs an in-process fake of the Mammoth API that
// authenticates requests, accepts uploads and walks jobs through scripted
// states, so callers can exercise uploads and job tracking end to end:
//
//	srv := fixtures.NewServer(t)
//	srv.QueueUpload(fixtures.Started(7))
//	srv.AddJob(7, fixtures.Processing(), fixtures.Succeeded(42))
//
//	c, _ := client.New(config.APIConfig{
//		BaseURL: srv.URL,
//		Key:     fixtures.TestKey,
//		Secret:  fixtures.TestSecret,
//	}, logger.Nop())
package testing
