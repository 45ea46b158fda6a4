// Package chat is the IRC command surface: it parses operator commands
// (!bind, !lock, !monitor, !protect, !upload, ...) and translates each into a
// single binding-store or backend call. It holds no state of its own beyond
// pending unbind confirmations; everything ongoing is the guard package's job.
package chat
