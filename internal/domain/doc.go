// Package domain holds the shared value types, collaborator interfaces, and
// error taxonomy of the session engine. It has no dependencies on the other
// engine packages so every layer can import it.
package domain
