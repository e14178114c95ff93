// Package ingest turns loosely structured content documents into queue
// payloads.
//
// Documents arrive as JSON or YAML using either the portal's Turkish field
// names (baslik, aciklama, etiketler, kisaIcerik, icerik) or their English
// equivalents. Normalize maps both onto queue.Payload, applies Unicode NFC
// normalisation, and keeps the original document in Payload.Raw.
package ingest
