// Package ws implements the live event stream for airguard-server.
//
// The ingest pipeline calls Hub.Publish for every reading, classification
// and alert outcome; the hub fans each event out to all connected clients.
// A newly connected client first receives the latest message of every event
// kind so it has current state right away.
//
// Message format sent to clients:
//
//	{
//	  "event": "reading" | "classification" | "alert",
//	  "at":    "2025-03-01T12:00:00Z",
//	  "data":  { ... }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
