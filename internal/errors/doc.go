// Package errors provides structured, actionable error messages for the
// pinus command.
//
// Each error has a registered code (e.g., "P004") that maps to a short
// message, a longer explanation and a suggestion. FromError converts
// client errors into these, keyed by the protocol error class at the root
// of the error chain:
//
//	_, err := client.Connect(ctx)
//	if err != nil {
//	    errors.PrintError(os.Stderr, errors.FromError(err, errors.CodeConnectFailed))
//	}
//	// Output:
//	// ERROR P004: Handshake rejected
//	//
//	//   client version rejected (code 501)
//	//
//	//   Hint: Check handshake.type and handshake.version in pinus.toml
//
// # Code Ranges
//
//   - P001-P099: connection and protocol failures
//   - C001-C099: pinus.toml problems
//   - U001-U099: command-line usage
package errors
