// Package protocol implements the FC <-> GCS telemetry wire protocol:
// fixed 20-byte binary frames interleaved with ASCII NMEA sentences on a
// single serial stream.
//
// Frame layout (20 bytes): sync[2] | message_id[1] | payload[16] | checksum[1].
// Inbound frames carry the "FC" sync marker, outbound frames carry "GS".
// The checksum is (0xFF - sum(bytes 0..18)) & 0xFF.
//
// There is no higher-level multiplexing byte on the link; format is inferred
// from the leading character ('$' starts an NMEA sentence). The Demuxer
// recovers frame alignment after corruption by scanning for the sync marker.
package protocol
