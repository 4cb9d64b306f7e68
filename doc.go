// Package pantry is a client for a pantry model-runner daemon.
//
// The daemon hosts local and remote language models behind a small HTTP
// API and streams generations over server-sent events. This package
// wraps that API with credential management, client-side permission
// gating, and a session type that tracks the prompt lifecycle
// explicitly. Subpackages can be used on their own:
//
//   - api: one method per daemon route, raw wire types
//   - transport: unix socket and TCP/TLS dialing with error classification
//   - sse: server-sent events frame decoding
//   - runnertest: an in-process fake daemon for tests
//
// # Quick Start
//
// Connect, register once, and stream a completion:
//
//	client, _ := pantry.New(pantry.WithSocketPath("/tmp/pantrylocal.sock"))
//	info, _ := client.Register(ctx, "my-tool")
//
//	session, _ := client.CreateSession(ctx, pantry.WithModelID("llama-7b"))
//	defer session.Close()
//
//	events, _ := session.Prompt(ctx, "Say hello.")
//	var acc pantry.Accumulator
//	for ev := range events {
//		acc.Add(ev)
//	}
//	fmt.Println(acc.Text())
//
// Credentials persist in a TOML file, so later runs skip registration:
//
//	client, _ := pantry.New(
//		pantry.WithBaseURL("https://runner.internal:9404"),
//		pantry.WithCredentialsFile(pantry.DefaultCredentialsPath()),
//	)
//
// # Permissions
//
// The daemon grants each registered client a fixed set of permissions.
// The client caches them and refuses calls it knows would be denied
// before touching the network; operations the grant set does not cover
// return an *AuthorizationError. Grants are requested through the
// operator approval queue, see Client.RequestPermissions and
// Client.AwaitRequest.
//
// # Sessions
//
// A Session moves through Created, Open, Streaming, and Closed states.
// One generation may be in flight at a time; a second Prompt while
// streaming returns a *StateError rather than queueing. Stream failures
// close the session, successful completions return it to Open for the
// next prompt.
package pantry
